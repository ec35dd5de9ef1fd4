// Package escpos decodes the receiving side of an ESC/POS printer stream.
//
// Ownership boundary:
// - opcode table and per-command payload shapes
// - command dispatch and event emission
// - ASB acknowledgement write-back
// - raster image payload decode (rendering and storage are injected)
//
// The decoder reads one byte at a time from a ByteSource and blocks there
// and nowhere else, so a command's payload is always consumed as a unit.
//
// Known limitation: an opcode missing from the table has no known payload
// length. The decoder consumes nothing beyond its two opcode bytes, which
// misaligns the stream if that command carried a payload.
package escpos
