package escpos

import "sync"

// Kind classifies a decoded command.
type Kind string

const (
	KindBuzzer      Kind = "buzzer"
	KindPrintMode   Kind = "print_mode"
	KindReset       Kind = "reset"
	KindFeed        Kind = "feed"
	KindCharset     Kind = "charset"
	KindReverse     Kind = "reverse"
	KindIgnored     Kind = "ignored"
	KindCodePage    Kind = "code_page"
	KindMotionUnits Kind = "motion_units"
	KindCut         Kind = "cut"
	KindASB         Kind = "asb"
	KindImage       Kind = "image"
	KindUnknown     Kind = "unknown"
)

// Event describes one fully consumed command.
type Event struct {
	Kind   Kind
	Opcode Opcode
	// Payload holds the bytes read after the opcode, in wire order.
	// Raster pixel data is not included.
	Payload []byte
	Message string
	// Text is an unrecognized pair decoded under the active code page.
	// Printers receive plain text this way.
	Text string

	PrintMode PrintMode
	Status    StatusFlags
	Cut       CutMode
	Charset   string
	CodePage  CodePage
	Image     *ImageInfo
}

// PrintMode is the decoded ESC ! flag byte.
type PrintMode struct {
	FontB        bool
	Emphasized   bool
	DoubleHeight bool
	DoubleWidth  bool
	Underline    bool
}

func decodePrintMode(n byte) PrintMode {
	return PrintMode{
		FontB:        n&0x01 != 0,
		Emphasized:   n&0x08 != 0,
		DoubleHeight: n&0x10 != 0,
		DoubleWidth:  n&0x20 != 0,
		Underline:    n&0x80 != 0,
	}
}

// StatusFlags is the decoded GS a status mask.
type StatusFlags struct {
	DrawerKickout bool
	OnlineOffline bool
	Error         bool
	PaperSensor   bool
}

func decodeStatusFlags(n byte) StatusFlags {
	return StatusFlags{
		DrawerKickout: n&0x01 != 0,
		OnlineOffline: n&0x02 != 0,
		Error:         n&0x04 != 0,
		PaperSensor:   n&0x08 != 0,
	}
}

// CutMode is the decoded GS V command.
type CutMode struct {
	Mode byte
	// Feed is set for the function that feeds FeedUnits before cutting.
	Feed      bool
	FeedUnits byte
}

// ImageInfo describes one GS v 0 raster command.
type ImageInfo struct {
	Marker byte
	Mode   byte
	// Width is in bytes per row; the image is Width*8 pixels wide.
	Width  int
	Height int
	Bytes  int64
	Path   string
	// Empty is set when width*height is zero and nothing was rendered.
	Empty bool
	// Dropped is set when the payload exceeded the raster limit and was
	// consumed without rendering.
	Dropped bool
	Err     error
}

// EventSink receives decoded commands. Emit runs on the decoder goroutine
// and must not block for long.
type EventSink interface {
	Emit(Event)
}

// MultiSink fans one event out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Recorder keeps every emitted event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
