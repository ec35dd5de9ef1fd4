package escpos

import "fmt"

// Single-byte commands, checked before a byte is paired into an Opcode.
const (
	ByteIdle   byte = 0x00
	ByteBuzzer byte = 0x1E
)

const (
	ESC byte = 0x1B
	GS  byte = 0x1D
)

// Opcode is a two-byte command identifier, first byte in the high half.
type Opcode uint16

const (
	OpSelectPrintMode  Opcode = 0x1B21 // ESC !
	OpInitialize       Opcode = 0x1B40 // ESC @
	OpFeedPaper        Opcode = 0x1B4A // ESC J
	OpSelectCharset    Opcode = 0x1B52 // ESC R
	OpPanelButtons     Opcode = 0x1B63 // ESC c
	OpSelectCodePage   Opcode = 0x1B74 // ESC t
	OpReversePrinting  Opcode = 0x1D42 // GS B
	OpMotionUnits      Opcode = 0x1D50 // GS P
	OpCutPaper         Opcode = 0x1D56 // GS V
	OpAutoStatusBack   Opcode = 0x1D61 // GS a
	OpPrintRasterImage Opcode = 0x1D76 // GS v
)

func MakeOpcode(first, second byte) Opcode {
	return Opcode(uint16(first)<<8 | uint16(second))
}

// Bytes returns the wire form of op.
func (op Opcode) Bytes() []byte {
	return []byte{byte(op >> 8), byte(op)}
}

// String renders op as four lowercase hex digits, e.g. "1d61".
func (op Opcode) String() string {
	return fmt.Sprintf("%04x", uint16(op))
}

// ASBAck is written back on every GS a command.
var ASBAck = []byte{0x14, 0x00, 0x00, 0x00, 0xFF}

// RasterMarker is the fixed first header byte of GS v 0.
const RasterMarker byte = 0x30
