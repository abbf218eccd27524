// Package rle implements the repeat-byte expansion filter shared by
// Squeeze and Crunch: a 0x90 byte in the decoded stream introduces a
// repeat count for the byte that preceded it, rather than standing for
// itself.
package rle

// RepeatMarker is the escape byte (CP/M's 0x90) that introduces a repeat
// count in the filtered stream.
const RepeatMarker = 0x90

// Filter expands RLE-encoded input fed one byte at a time via Feed into
// literal output written to an io.ByteWriter. It holds the two bits of
// state the format needs: whether the previous byte was an unresolved
// RepeatMarker, and the last literal byte emitted (the one a repeat count
// multiplies).
type Filter struct {
	repeatPending bool
	lastByte      byte
}

// Reset clears a pending repeat marker, as when starting to decode a new
// stream; the remembered last byte is left as it was. Squeeze and Crunch's decoders reset their filter once, right
// before decoding begins.
func (f *Filter) Reset() {
	f.repeatPending = false
}

// ByteSink receives the literal bytes a Filter produces.
type ByteSink interface {
	WriteByte(c byte) error
}

// Feed advances the filter by one decoded byte, writing zero or more
// literal bytes to out. val is a byte value in [0,255].
//
//   - If a RepeatMarker is pending, val is the repeat count: 0 re-emits a
//     literal RepeatMarker, otherwise the last literal byte is repeated
//     val-1 more times (one copy having already been emitted before the
//     marker).
//   - Otherwise a RepeatMarker starts a pending repeat and produces no
//     output yet.
//   - Any other byte is emitted as-is and remembered as the repeat
//     source.
func (f *Filter) Feed(val byte, out ByteSink) error {
	switch {
	case f.repeatPending:
		f.repeatPending = false
		if val == 0 {
			return out.WriteByte(RepeatMarker)
		}
		for n := int(val) - 1; n > 0; n-- {
			if err := out.WriteByte(f.lastByte); err != nil {
				return err
			}
		}
		return nil
	case val == RepeatMarker:
		f.repeatPending = true
		return nil
	default:
		f.lastByte = val
		return out.WriteByte(val)
	}
}
