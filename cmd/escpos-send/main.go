// escpos-send streams an ESC/POS job to a receiver and waits for the
// automatic status back replies it requested.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/danmuck/escposd/internal/logging"
	"github.com/danmuck/escposd/internal/protocol/bytequeue"
	"github.com/danmuck/escposd/internal/protocol/escpos"
	"github.com/rs/zerolog/log"
)

var ErrShortAck = errors.New("escpos-send: short status reply")

func main() {
	addr := flag.String("addr", "127.0.0.1:6001", "receiver address")
	file := flag.String("file", "", "raw ESC/POS capture to send (demo job when empty)")
	width := flag.Int("width", 48, "demo raster width in bytes per row")
	height := flag.Int("height", 64, "demo raster height in rows")
	timeout := flag.Duration("timeout", 5*time.Second, "dial and reply timeout")
	flag.Parse()

	logging.ConfigureRuntime()

	var (
		payload []byte
		err     error
	)
	if *file != "" {
		payload, err = os.ReadFile(*file)
	} else {
		payload, err = demoJob(*width, *height)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "escpos-send: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	want, err := countASB(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "escpos-send: %v\n", err)
		os.Exit(1)
	}
	acks, err := send(ctx, *addr, payload, want)
	if err != nil {
		fmt.Fprintf(os.Stderr, "escpos-send: %v\n", err)
		os.Exit(1)
	}
	log.Info().
		Str("addr", *addr).
		Int("bytes", len(payload)).
		Int("acks", acks).
		Msg("job sent")
}

// demoJob builds a job that exercises the common receiver paths: reset,
// print mode, a checkerboard raster, a cut and a status request.
func demoJob(width, height int) ([]byte, error) {
	if width <= 0 || width > 0xFFFF || height <= 0 || height > 0xFFFF {
		return nil, fmt.Errorf("demo raster %dx%d out of range", width, height)
	}
	var buf bytes.Buffer
	buf.Write(escpos.OpInitialize.Bytes())
	buf.Write(escpos.OpSelectPrintMode.Bytes())
	buf.WriteByte(0x08)
	buf.Write(escpos.OpPrintRasterImage.Bytes())
	buf.Write([]byte{
		escpos.RasterMarker, 0x00,
		byte(width), byte(width >> 8),
		byte(height), byte(height >> 8),
	})
	for y := 0; y < height; y++ {
		pattern := byte(0xF0)
		if (y/4)%2 == 1 {
			pattern = 0x0F
		}
		buf.Write(bytes.Repeat([]byte{pattern}, width))
	}
	buf.Write(escpos.OpCutPaper.Bytes())
	buf.WriteByte(0x00)
	buf.Write(escpos.OpAutoStatusBack.Bytes())
	buf.WriteByte(0x0F)
	return buf.Bytes(), nil
}

// countASB decodes p offline and counts the status back requests, which is
// the number of replies the receiver will write.
func countASB(p []byte) (int, error) {
	q := bytequeue.New()
	q.PushBytes(p)
	q.Close()

	var rec escpos.Recorder
	// Rasters are only framed here, never rendered.
	dec := escpos.NewDecoder(q, nil, escpos.WithSink(&rec), escpos.WithMaxRasterBytes(1))
	if err := dec.Run(context.Background()); err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range rec.Events() {
		if ev.Kind == escpos.KindASB {
			n++
		}
	}
	return n, nil
}

// send writes payload to addr and reads wantAcks status replies.
func send(ctx context.Context, addr string, payload []byte, wantAcks int) (int, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(payload); err != nil {
		return 0, fmt.Errorf("write job: %w", err)
	}
	ack := make([]byte, len(escpos.ASBAck))
	for got := 0; got < wantAcks; got++ {
		if _, err := io.ReadFull(conn, ack); err != nil {
			return got, fmt.Errorf("%w: %w", ErrShortAck, err)
		}
		if !bytes.Equal(ack, escpos.ASBAck) {
			return got, fmt.Errorf("%w: % x", ErrShortAck, ack)
		}
	}
	return wantAcks, nil
}
