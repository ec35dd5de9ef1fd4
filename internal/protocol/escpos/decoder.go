package escpos

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"time"

	"github.com/danmuck/escposd/internal/protocol/bytequeue"
	"github.com/danmuck/escposd/internal/raster"
)

// DefaultMaxRasterBytes bounds the packed data rendered for one image.
const DefaultMaxRasterBytes int64 = 16 << 20

const discardChunk = 4096

var ErrReplyWrite = errors.New("escpos: reply write failed")

// ByteSource yields the inbound stream one byte at a time, blocking until a
// byte is available. It returns bytequeue.ErrEndOfStream (or io.EOF) once
// the stream is closed and drained.
type ByteSource interface {
	Next(ctx context.Context) (byte, error)
}

// ImageStore persists a rendered raster and returns where it went.
type ImageStore interface {
	Save(img image.Image, at time.Time) (string, error)
}

// Decoder interprets one connection's command stream.
type Decoder struct {
	src            ByteSource
	reply          io.Writer
	sink           EventSink
	images         ImageStore
	now            func() time.Time
	maxRasterBytes int64
	// page is the table selected by ESC t, reset by ESC @.
	page CodePage
}

type Option func(*Decoder)

func WithSink(sink EventSink) Option {
	return func(d *Decoder) {
		if sink != nil {
			d.sink = sink
		}
	}
}

func WithImageStore(store ImageStore) Option {
	return func(d *Decoder) {
		d.images = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

// WithMaxRasterBytes sets the render limit; n <= 0 keeps the default.
func WithMaxRasterBytes(n int64) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxRasterBytes = n
		}
	}
}

// NewDecoder binds a decoder to src. Replies go to reply, which may be nil
// for a receive-only stream.
func NewDecoder(src ByteSource, reply io.Writer, opts ...Option) *Decoder {
	d := &Decoder{
		src:            src,
		reply:          reply,
		sink:           discardSink{},
		now:            time.Now,
		maxRasterBytes: DefaultMaxRasterBytes,
		page:           LookupCodePage(0),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run decodes commands until the stream ends. End of stream, including one
// that cuts a command short, returns nil. Context cancellation returns the
// context error; a failed reply write returns ErrReplyWrite.
func (d *Decoder) Run(ctx context.Context) error {
	for {
		err := d.step(ctx)
		if err == nil {
			continue
		}
		if isEndOfStream(err) {
			return nil
		}
		return err
	}
}

// step consumes exactly one command.
func (d *Decoder) step(ctx context.Context) error {
	first, err := d.src.Next(ctx)
	if err != nil {
		return err
	}
	switch first {
	case ByteIdle:
		return nil
	case ByteBuzzer:
		d.sink.Emit(Event{Kind: KindBuzzer, Message: "Beep the buzzer"})
		return nil
	}

	second, err := d.src.Next(ctx)
	if err != nil {
		return err
	}
	op := MakeOpcode(first, second)
	cmd, ok := commands[op]
	if !ok {
		text, _ := d.page.Decode(op.Bytes())
		d.sink.Emit(Event{
			Kind:    KindUnknown,
			Opcode:  op,
			Text:    text,
			Message: fmt.Sprintf("Unrecognized command %s; payload length unknown, stream may be misaligned", op),
		})
		return nil
	}

	r := &payloadReader{ctx: ctx, d: d}
	ev, err := cmd(r)
	if err != nil {
		return err
	}
	ev.Opcode = op
	ev.Payload = r.payload
	d.sink.Emit(ev)
	if op == OpAutoStatusBack {
		return d.writeReply(ASBAck)
	}
	return nil
}

func (d *Decoder) writeReply(p []byte) error {
	if d.reply == nil {
		return nil
	}
	if _, err := d.reply.Write(p); err != nil {
		return fmt.Errorf("%w: %w", ErrReplyWrite, err)
	}
	return nil
}

func isEndOfStream(err error) bool {
	return errors.Is(err, bytequeue.ErrEndOfStream) || errors.Is(err, io.EOF)
}

// payloadReader reads one command's payload and records it for the event.
type payloadReader struct {
	ctx     context.Context
	d       *Decoder
	payload []byte
}

func (r *payloadReader) next() (byte, error) {
	b, err := r.d.src.Next(r.ctx)
	if err != nil {
		return 0, err
	}
	r.payload = append(r.payload, b)
	return b, nil
}

// fill reads len(dst) bytes without recording them.
func (r *payloadReader) fill(dst []byte) error {
	if f, ok := r.d.src.(interface {
		Fill(context.Context, []byte) error
	}); ok {
		return f.Fill(r.ctx, dst)
	}
	for i := range dst {
		b, err := r.d.src.Next(r.ctx)
		if err != nil {
			return err
		}
		dst[i] = b
	}
	return nil
}

type command func(r *payloadReader) (Event, error)

// commands maps each recognized opcode to the handler that consumes its
// payload. Every handler reads its full payload before returning.
var commands = map[Opcode]command{
	OpSelectPrintMode:  selectPrintMode,
	OpInitialize:       initialize,
	OpFeedPaper:        feedPaper,
	OpSelectCharset:    selectCharset,
	OpReversePrinting:  reversePrinting,
	OpPanelButtons:     panelButtons,
	OpSelectCodePage:   selectCodePage,
	OpMotionUnits:      motionUnits,
	OpCutPaper:         cutPaper,
	OpAutoStatusBack:   autoStatusBack,
	OpPrintRasterImage: printRasterImage,
}

// Recognized reports whether op is in the command table.
func Recognized(op Opcode) bool {
	_, ok := commands[op]
	return ok
}

func selectPrintMode(r *payloadReader) (Event, error) {
	n, err := r.next()
	if err != nil {
		return Event{}, err
	}
	mode := decodePrintMode(n)
	font := "A"
	if mode.FontB {
		font = "B"
	}
	var sb strings.Builder
	sb.WriteString("Select print modes:")
	fmt.Fprintf(&sb, "\n  font: %s", font)
	fmt.Fprintf(&sb, "\n  Emphasized mode: %s", selected(mode.Emphasized))
	fmt.Fprintf(&sb, "\n  Double-height mode: %s", selected(mode.DoubleHeight))
	fmt.Fprintf(&sb, "\n  Double-width mode: %s", selected(mode.DoubleWidth))
	fmt.Fprintf(&sb, "\n  Underline mode: %s", selected(mode.Underline))
	return Event{Kind: KindPrintMode, PrintMode: mode, Message: sb.String()}, nil
}

func initialize(r *payloadReader) (Event, error) {
	r.d.page = LookupCodePage(0)
	return Event{
		Kind:    KindReset,
		Message: "Clear the print buffer and reset the printer to its power-on mode.",
	}, nil
}

func feedPaper(r *payloadReader) (Event, error) {
	n, err := r.next()
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:    KindFeed,
		Message: fmt.Sprintf("Print the buffer and feed the paper %d motion units.", n),
	}, nil
}

func selectCharset(r *payloadReader) (Event, error) {
	n, err := r.next()
	if err != nil {
		return Event{}, err
	}
	name := CharsetName(n)
	return Event{
		Kind:    KindCharset,
		Charset: name,
		Message: fmt.Sprintf("Select international character set %q.", name),
	}, nil
}

func reversePrinting(r *payloadReader) (Event, error) {
	n, err := r.next()
	if err != nil {
		return Event{}, err
	}
	state := "off"
	if n != 0 {
		state = "on"
	}
	return Event{
		Kind:    KindReverse,
		Message: fmt.Sprintf("Turn %s white/black reverse printing mode.", state),
	}, nil
}

func panelButtons(r *payloadReader) (Event, error) {
	for i := 0; i < 2; i++ {
		if _, err := r.next(); err != nil {
			return Event{}, err
		}
	}
	return Event{Kind: KindIgnored, Message: "Panel/sensor setting ignored."}, nil
}

func selectCodePage(r *payloadReader) (Event, error) {
	n, err := r.next()
	if err != nil {
		return Event{}, err
	}
	page := LookupCodePage(n)
	r.d.page = page
	return Event{
		Kind:     KindCodePage,
		CodePage: page,
		Message:  fmt.Sprintf("Select page %d from the character code table: %s.", n, page.Label()),
	}, nil
}

func motionUnits(r *payloadReader) (Event, error) {
	x, err := r.next()
	if err != nil {
		return Event{}, err
	}
	y, err := r.next()
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:    KindMotionUnits,
		Message: fmt.Sprintf("Set the horizontal and vertical motion units to x=%d y=%d.", x, y),
	}, nil
}

func cutPaper(r *payloadReader) (Event, error) {
	m, err := r.next()
	if err != nil {
		return Event{}, err
	}
	cut := CutMode{Mode: m}
	switch m {
	case 0, 1, 49:
		return Event{
			Kind:    KindCut,
			Cut:     cut,
			Message: "Select cut mode and cut paper: partial cut",
		}, nil
	}
	n, err := r.next()
	if err != nil {
		return Event{}, err
	}
	cut.Feed = true
	cut.FeedUnits = n
	return Event{
		Kind:    KindCut,
		Cut:     cut,
		Message: fmt.Sprintf("Select cut mode and cut paper: feed paper %d then cut", n),
	}, nil
}

func autoStatusBack(r *payloadReader) (Event, error) {
	n, err := r.next()
	if err != nil {
		return Event{}, err
	}
	flags := decodeStatusFlags(n)
	var sb strings.Builder
	sb.WriteString("Enable or disable ASB and select the status items to include:")
	fmt.Fprintf(&sb, "\n  Drawer kick-out connector pin 3 status %s", enabled(flags.DrawerKickout))
	fmt.Fprintf(&sb, "\n  On-line/off-line %s", enabled(flags.OnlineOffline))
	fmt.Fprintf(&sb, "\n  Error status %s", enabled(flags.Error))
	fmt.Fprintf(&sb, "\n  Paper roll sensor status %s", enabled(flags.PaperSensor))
	return Event{Kind: KindASB, Status: flags, Message: sb.String()}, nil
}

func printRasterImage(r *payloadReader) (Event, error) {
	var hdr [6]byte
	for i := range hdr {
		b, err := r.next()
		if err != nil {
			return Event{}, err
		}
		hdr[i] = b
	}
	width := int(hdr[2]) + int(hdr[3])*256
	height := int(hdr[4]) + int(hdr[5])*256
	info := &ImageInfo{
		Marker: hdr[0],
		Mode:   hdr[1],
		Width:  width,
		Height: height,
		Bytes:  int64(width) * int64(height),
	}
	ev := Event{Kind: KindImage, Image: info}

	switch {
	case info.Bytes == 0:
		info.Empty = true
		ev.Message = fmt.Sprintf("Print image (mode=%d) with size: %dx%d; empty, nothing saved", info.Mode, width, height)
		return ev, nil
	case info.Bytes > r.d.maxRasterBytes:
		if err := r.discard(info.Bytes); err != nil {
			return Event{}, err
		}
		info.Dropped = true
		ev.Message = fmt.Sprintf("Print image (mode=%d) with size: %dx%d; %d bytes over limit, discarded", info.Mode, width, height, info.Bytes)
		return ev, nil
	}

	data := make([]byte, info.Bytes)
	if err := r.fill(data); err != nil {
		return Event{}, err
	}
	at := r.d.now()
	img, err := raster.Render(width, height, data)
	if err != nil {
		info.Err = err
		ev.Message = fmt.Sprintf("Print image (mode=%d) with size: %dx%d; render failed: %v", info.Mode, width, height, err)
		return ev, nil
	}
	if r.d.images == nil {
		ev.Message = fmt.Sprintf("Print image (mode=%d) with size: %dx%d", info.Mode, width, height)
		return ev, nil
	}
	path, err := r.d.images.Save(img, at)
	if err != nil {
		info.Err = err
		ev.Message = fmt.Sprintf("Print image (mode=%d) with size: %dx%d; save failed: %v", info.Mode, width, height, err)
		return ev, nil
	}
	info.Path = path
	ev.Message = fmt.Sprintf("Print image (mode=%d) with size: %dx%d; image saved as: %s", info.Mode, width, height, path)
	return ev, nil
}

func (r *payloadReader) discard(n int64) error {
	buf := make([]byte, discardChunk)
	for n > 0 {
		chunk := buf
		if n < int64(len(chunk)) {
			chunk = chunk[:n]
		}
		if err := r.fill(chunk); err != nil {
			return err
		}
		n -= int64(len(chunk))
	}
	return nil
}

func selected(v bool) string {
	if v {
		return "selected"
	}
	return "not selected"
}

func enabled(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}
