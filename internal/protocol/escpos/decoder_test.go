package escpos

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/escposd/internal/protocol/bytequeue"
	"github.com/danmuck/escposd/internal/raster"
	"github.com/danmuck/escposd/internal/testutil/testlog"
)

type savedImage struct {
	img image.Image
	at  time.Time
}

type memStore struct {
	mu    sync.Mutex
	saved []savedImage
	err   error
}

func (m *memStore) Save(img image.Image, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, savedImage{img: img, at: at})
	return raster.FileName(at), nil
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

// decodeAll runs a decoder over a closed stream holding in.
func decodeAll(t *testing.T, in []byte, opts ...Option) ([]Event, []byte) {
	t.Helper()
	q := bytequeue.New()
	q.PushBytes(in)
	q.Close()

	rec := &Recorder{}
	var reply bytes.Buffer
	opts = append([]Option{WithSink(rec)}, opts...)
	d := NewDecoder(q, &reply, opts...)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("decoder left %d bytes unread", q.Len())
	}
	return rec.Events(), reply.Bytes()
}

func TestDecoderRecognizedCommandsPreserveAlignment(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name    string
		op      Opcode
		payload []byte
		kind    Kind
	}{
		{"print mode", OpSelectPrintMode, []byte{0xB9}, KindPrintMode},
		{"initialize", OpInitialize, nil, KindReset},
		{"feed", OpFeedPaper, []byte{0x1E}, KindFeed},
		{"charset", OpSelectCharset, []byte{0x02}, KindCharset},
		{"reverse", OpReversePrinting, []byte{0x01}, KindReverse},
		{"panel buttons", OpPanelButtons, []byte{0x35, 0x00}, KindIgnored},
		{"code page", OpSelectCodePage, []byte{0x10}, KindCodePage},
		{"motion units", OpMotionUnits, []byte{0xB4, 0xB4}, KindMotionUnits},
		{"partial cut 0", OpCutPaper, []byte{0x00}, KindCut},
		{"partial cut 1", OpCutPaper, []byte{0x01}, KindCut},
		{"partial cut 49", OpCutPaper, []byte{0x31}, KindCut},
		{"feed cut", OpCutPaper, []byte{0x41, 0x03}, KindCut},
		{"asb", OpAutoStatusBack, []byte{0x0F}, KindASB},
		{"raster", OpPrintRasterImage, []byte{0x30, 0x00, 0x01, 0x00, 0x02, 0x00, 0xAA, 0x55}, KindImage},
		{"raster empty", OpPrintRasterImage, []byte{0x30, 0x00, 0x00, 0x00, 0x05, 0x00}, KindImage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// A trailing buzzer byte only decodes as a buzzer if the command
			// consumed exactly its payload.
			in := append(tc.op.Bytes(), tc.payload...)
			in = append(in, ByteBuzzer)

			events, _ := decodeAll(t, in)
			if len(events) != 2 {
				t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
			}
			ev := events[0]
			if ev.Kind != tc.kind || ev.Opcode != tc.op {
				t.Fatalf("unexpected event: kind=%s opcode=%s", ev.Kind, ev.Opcode)
			}
			wantPayload := tc.payload
			if tc.op == OpPrintRasterImage {
				wantPayload = tc.payload[:6]
			}
			if !bytes.Equal(ev.Payload, wantPayload) {
				t.Fatalf("payload mismatch: got=% x want=% x", ev.Payload, wantPayload)
			}
			if events[1].Kind != KindBuzzer {
				t.Fatalf("stream misaligned after %s: next=%+v", tc.op, events[1])
			}
		})
	}
}

func TestDecoderIdleBytesProduceNothing(t *testing.T) {
	testlog.Start(t)

	events, reply := decodeAll(t, make([]byte, 256))
	if len(events) != 0 {
		t.Fatalf("idle bytes emitted events: %+v", events)
	}
	if len(reply) != 0 {
		t.Fatalf("idle bytes wrote reply: % x", reply)
	}

	in := append([]byte{0, 0, 0}, OpInitialize.Bytes()...)
	in = append(in, 0, 0)
	events, _ = decodeAll(t, in)
	if len(events) != 1 || events[0].Kind != KindReset {
		t.Fatalf("idle bytes disturbed decoding: %+v", events)
	}
}

func TestDecoderPrintModeFlags(t *testing.T) {
	testlog.Start(t)

	events, _ := decodeAll(t, []byte{0x1B, 0x21, 0b10111001})
	got := events[0].PrintMode
	want := PrintMode{FontB: true, Emphasized: true, DoubleHeight: true, DoubleWidth: true, Underline: true}
	if got != want {
		t.Fatalf("unexpected print mode: %+v", got)
	}

	events, _ = decodeAll(t, []byte{0x1B, 0x21, 0x00})
	if events[0].PrintMode != (PrintMode{}) {
		t.Fatalf("expected all modes off: %+v", events[0].PrintMode)
	}
}

func TestDecoderASBWritesAck(t *testing.T) {
	testlog.Start(t)

	events, reply := decodeAll(t, []byte{0x1D, 0x61, 0x0F})
	if len(events) != 1 {
		t.Fatalf("expected one event, got %+v", events)
	}
	want := StatusFlags{DrawerKickout: true, OnlineOffline: true, Error: true, PaperSensor: true}
	if events[0].Status != want {
		t.Fatalf("unexpected status flags: %+v", events[0].Status)
	}
	if !bytes.Equal(reply, []byte{0x14, 0x00, 0x00, 0x00, 0xFF}) {
		t.Fatalf("unexpected ack: % x", reply)
	}

	_, reply = decodeAll(t, []byte{0x1D, 0x61, 0x00, 0x1D, 0x61, 0x02})
	if len(reply) != 10 {
		t.Fatalf("expected one ack per command, got % x", reply)
	}
}

func TestDecoderOnlyASBReplies(t *testing.T) {
	testlog.Start(t)

	in := []byte{
		0x1B, 0x40,
		0x1B, 0x21, 0x08,
		0x1D, 0x56, 0x42, 0x00,
		0x1E,
	}
	_, reply := decodeAll(t, in)
	if len(reply) != 0 {
		t.Fatalf("unexpected reply bytes: % x", reply)
	}
}

func TestDecoderCutModes(t *testing.T) {
	testlog.Start(t)

	events, _ := decodeAll(t, []byte{0x1D, 0x56, 0x01, 0x1E})
	if events[0].Cut.Feed {
		t.Fatalf("m=1 must be a partial cut: %+v", events[0].Cut)
	}
	if events[0].Message != "Select cut mode and cut paper: partial cut" {
		t.Fatalf("unexpected message: %q", events[0].Message)
	}
	if events[1].Kind != KindBuzzer {
		t.Fatalf("m=1 consumed an extra byte")
	}

	events, _ = decodeAll(t, []byte{0x1D, 0x56, 0x02, 0x1E})
	if len(events) != 1 {
		t.Fatalf("m=2 must consume the next byte as n: %+v", events)
	}
	cut := events[0].Cut
	if !cut.Feed || cut.FeedUnits != 0x1E {
		t.Fatalf("unexpected cut: %+v", cut)
	}
}

func TestDecoderCharsetOutOfRange(t *testing.T) {
	testlog.Start(t)

	events, _ := decodeAll(t, []byte{0x1B, 0x52, 13, 0x1B, 0x52, 14, 0x1B, 0x52, 0xFF})
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Charset != "Korea" {
		t.Fatalf("unexpected charset: %q", events[0].Charset)
	}
	for _, ev := range events[1:] {
		if ev.Charset != "reserved" {
			t.Fatalf("expected reserved charset, got %q", ev.Charset)
		}
	}
}

func TestDecoderCodePageLabels(t *testing.T) {
	testlog.Start(t)

	events, _ := decodeAll(t, []byte{0x1B, 0x74, 0x00, 0x1B, 0x74, 0x63})
	if events[0].CodePage.Charmap == nil {
		t.Fatalf("page 0 should resolve a charmap")
	}
	text, err := events[0].CodePage.Decode([]byte{0x9B})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "¢" {
		t.Fatalf("unexpected PC437 decode: %q", text)
	}
	if events[1].CodePage.N != 0x63 || events[1].CodePage.Charmap != nil {
		t.Fatalf("unexpected unlisted page: %+v", events[1].CodePage)
	}
	if events[1].CodePage.Label() != "page 99" {
		t.Fatalf("unexpected label: %q", events[1].CodePage.Label())
	}
}

func TestDecoderUnknownOpcodeConsumesNoPayload(t *testing.T) {
	testlog.Start(t)

	// 1b61 is not in the table; its argument byte is read as the next opcode.
	events, _ := decodeAll(t, []byte{0x1B, 0x61, 0x00, 0x1E})
	if len(events) != 2 {
		t.Fatalf("expected unknown + buzzer, got %+v", events)
	}
	if events[0].Kind != KindUnknown || events[0].Opcode != MakeOpcode(0x1B, 0x61) {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if len(events[0].Payload) != 0 {
		t.Fatalf("unknown opcode must not consume payload")
	}
	if events[1].Kind != KindBuzzer {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if Recognized(MakeOpcode(0x1B, 0x61)) {
		t.Fatalf("1b61 should not be recognized")
	}
}

func TestDecoderUnknownPairsDecodeUnderActivePage(t *testing.T) {
	testlog.Start(t)

	// Text under the default page, ESC t 16 (WPC1252), then ESC @ back to
	// page 0.
	in := []byte{
		'H', 'i',
		0x1B, 0x74, 0x10,
		0x80, 'A',
		0x1B, 0x40,
		0x9B, 'A',
	}
	events, _ := decodeAll(t, in)

	var texts []string
	for _, ev := range events {
		if ev.Kind == KindUnknown {
			texts = append(texts, ev.Text)
		}
	}
	want := []string{"Hi", "€A", "¢A"}
	if len(texts) != len(want) {
		t.Fatalf("expected %d unknown pairs, got %q", len(want), texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("pair %d decoded as %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestDecoderRasterDimensions(t *testing.T) {
	testlog.Start(t)

	store := &memStore{}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := []byte{0x1D, 0x76, 0x30, 0x00, 0x2C, 0x01, 0x00, 0x02}
	in = append(in, bytes.Repeat([]byte{0x80}, 153600)...)
	in = append(in, ByteBuzzer)

	events, _ := decodeAll(t, in, WithImageStore(store), WithClock(func() time.Time { return at }))
	if len(events) != 2 || events[1].Kind != KindBuzzer {
		t.Fatalf("raster payload not consumed exactly: %d events", len(events))
	}
	info := events[0].Image
	if info == nil {
		t.Fatalf("missing image info")
	}
	if info.Width != 300 || info.Height != 512 || info.Bytes != 153600 {
		t.Fatalf("unexpected dimensions: %+v", info)
	}
	if info.Path != raster.FileName(at) {
		t.Fatalf("unexpected path: %q", info.Path)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one saved image, got %d", len(store.saved))
	}
	b := store.saved[0].img.Bounds()
	if b.Dx() != 2400 || b.Dy() != 512 {
		t.Fatalf("unexpected image bounds: %v", b)
	}
}

func TestDecoderRasterBitUnpacking(t *testing.T) {
	testlog.Start(t)

	store := &memStore{}
	in := []byte{0x1D, 0x76, 0x30, 0x00, 0x01, 0x00, 0x01, 0x00, 0b10000001}
	events, _ := decodeAll(t, in, WithImageStore(store))
	if events[0].Image.Err != nil {
		t.Fatalf("unexpected image error: %v", events[0].Image.Err)
	}
	img, ok := store.saved[0].img.(*image.Paletted)
	if !ok {
		t.Fatalf("unexpected image type %T", store.saved[0].img)
	}
	want := []bool{true, false, false, false, false, false, false, true}
	for x, mark := range want {
		if raster.Marked(img, x, 0) != mark {
			t.Fatalf("column %d: got=%v want=%v", x, !mark, mark)
		}
	}
}

func TestDecoderRasterZeroSize(t *testing.T) {
	testlog.Start(t)

	store := &memStore{}
	in := []byte{0x1D, 0x76, 0x30, 0x00, 0x00, 0x00, 0x00, 0x00, 0x1B, 0x40}
	events, _ := decodeAll(t, in, WithImageStore(store))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if !events[0].Image.Empty {
		t.Fatalf("expected empty image: %+v", events[0].Image)
	}
	if len(store.saved) != 0 {
		t.Fatalf("empty image must not be saved")
	}
	if events[1].Kind != KindReset {
		t.Fatalf("misaligned after empty raster: %+v", events[1])
	}
}

func TestDecoderRasterOverLimitIsDiscarded(t *testing.T) {
	testlog.Start(t)

	store := &memStore{}
	in := []byte{0x1D, 0x76, 0x30, 0x00, 0x02, 0x00, 0x03, 0x00}
	in = append(in, 1, 2, 3, 4, 5, 6)
	in = append(in, ByteBuzzer)
	events, _ := decodeAll(t, in, WithImageStore(store), WithMaxRasterBytes(4))
	if len(events) != 2 || events[1].Kind != KindBuzzer {
		t.Fatalf("oversized raster misaligned the stream: %+v", events)
	}
	if !events[0].Image.Dropped {
		t.Fatalf("expected dropped image: %+v", events[0].Image)
	}
	if len(store.saved) != 0 {
		t.Fatalf("dropped image must not be saved")
	}
}

func TestDecoderRasterSaveFailureIsNonFatal(t *testing.T) {
	testlog.Start(t)

	store := &memStore{err: errors.New("disk full")}
	in := []byte{0x1D, 0x76, 0x30, 0x00, 0x01, 0x00, 0x01, 0x00, 0xFF, 0x1E}
	events, _ := decodeAll(t, in, WithImageStore(store))
	if len(events) != 2 {
		t.Fatalf("expected decoding to continue, got %+v", events)
	}
	if events[0].Image.Err == nil {
		t.Fatalf("expected save error on event")
	}
}

func TestDecoderEndOfStreamMidCommand(t *testing.T) {
	testlog.Start(t)

	q := bytequeue.New()
	rec := &Recorder{}
	var reply bytes.Buffer
	d := NewDecoder(q, &reply, WithSink(rec))

	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background())
	}()

	// GS a with its argument missing: the decoder must wait for it.
	q.PushBytes([]byte{0x1D, 0x61})
	deadline := time.Now().Add(2 * time.Second)
	for q.Waiting() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("decoder did not suspend on a short payload")
		}
		time.Sleep(time.Millisecond)
	}
	q.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("decoder hung after end of stream")
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("partial command emitted events: %+v", rec.Events())
	}
	if reply.Len() != 0 {
		t.Fatalf("partial command wrote a reply: % x", reply.Bytes())
	}
}

func TestDecoderResumesAfterStarvation(t *testing.T) {
	testlog.Start(t)

	q := bytequeue.New()
	rec := &Recorder{}
	d := NewDecoder(q, nil, WithSink(rec))
	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background())
	}()

	stream := []byte{0x1D, 0x50, 0x10, 0x20, 0x1B, 0x4A, 0x05}
	for _, b := range stream {
		q.Push(b)
		time.Sleep(time.Millisecond)
	}
	q.Close()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	events := rec.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if !bytes.Equal(events[0].Payload, []byte{0x10, 0x20}) || !bytes.Equal(events[1].Payload, []byte{0x05}) {
		t.Fatalf("unexpected payloads: % x / % x", events[0].Payload, events[1].Payload)
	}
}

func TestDecoderContextCancel(t *testing.T) {
	testlog.Start(t)

	q := bytequeue.New()
	d := NewDecoder(q, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("decoder ignored cancellation")
	}
}

func TestDecoderReplyWriteFailure(t *testing.T) {
	testlog.Start(t)

	q := bytequeue.New()
	q.PushBytes([]byte{0x1D, 0x61, 0x01, 0x1B, 0x40})
	q.Close()
	rec := &Recorder{}
	d := NewDecoder(q, failingWriter{}, WithSink(rec))

	err := d.Run(context.Background())
	if !errors.Is(err, ErrReplyWrite) {
		t.Fatalf("expected ErrReplyWrite, got %v", err)
	}
	if len(rec.Events()) != 1 {
		t.Fatalf("decoder continued after failed reply: %+v", rec.Events())
	}
}

func TestOpcodeString(t *testing.T) {
	if OpAutoStatusBack.String() != "1d61" {
		t.Fatalf("unexpected opcode string: %q", OpAutoStatusBack.String())
	}
	if MakeOpcode(0x1B, 0x21) != OpSelectPrintMode {
		t.Fatalf("MakeOpcode mismatch")
	}
}
