// Package header implements the filename/comment/date preamble shared
// by Squeeze, Crunch and Cr-Lzh files.
package header

import (
	"time"

	"github.com/cpmarchive/mlbr/internal/cpm/content"
)

// maxHeaderName bounds how much of an overlong NUL-terminated name is
// kept; the terminator must still be present in the stream even when the
// kept prefix is truncated.
const maxHeaderName = 256

// Parsed holds everything Parse extracts from the preamble.
type Parsed struct {
	Name      string
	Comment   string
	Timestamp time.Time // zero if no valid date stamp was found
	Truncated bool      // the name was longer than maxHeaderName
}

// Parse reads the NUL-terminated name (and, for Crunch/Cr-Lzh, an
// optional bracketed comment and BCD date stamp). isSqueeze selects the
// starting offset (4 for Squeeze, whose CRC precedes the name, else 2)
// and disables the comment/date scan: Squeeze files never carry one.
func Parse(n *content.Node, isSqueeze bool) (Parsed, bool) {
	offset := 2
	if isSqueeze {
		offset = 4
	}
	if !n.In.Seek(offset) {
		return Parsed{}, false
	}

	var raw []byte
	truncated := false
	for {
		c := n.In.ReadU8()
		if c < 0 {
			return Parsed{}, false // no terminator found: BadHeader
		}
		if c == 0 {
			break
		}
		if len(raw) < maxHeaderName {
			raw = append(raw, byte(c))
		} else {
			truncated = true
		}
	}

	var comment string
	var ts time.Time
	nameBuf := raw
	if !isSqueeze {
		var cut int
		comment, ts, cut = scanCommentAndDate(raw)
		if cut >= 0 {
			nameBuf = raw[:cut]
		}
	}

	name, ok := sanitizeName(nameBuf)
	if !ok {
		return Parsed{}, false
	}

	return Parsed{Name: name, Comment: comment, Timestamp: ts, Truncated: truncated}, true
}

// scanCommentAndDate looks for ".xxx" followed by an optional bracketed
// comment and/or explicit date tag, per the shared header format. It
// returns the comment text, any parsed timestamp, and cut — the index
// into raw where the name ends and the comment/date region begins (-1
// if no such region was found, meaning the whole buffer is the name).
func scanCommentAndDate(raw []byte) (comment string, ts time.Time, cut int) {
	cut = -1
	dot := indexByte(raw, '.')
	if dot < 0 {
		return "", time.Time{}, cut
	}
	tail := raw[dot:]
	if len(tail) <= 4 {
		return "", time.Time{}, cut
	}
	restStart := dot + 4
	rest := raw[restStart:]

	var stamp []byte
	cut = restStart
	if len(rest) > 0 && rest[0] == '[' {
		if end := indexByte(rest, ']'); end >= 0 {
			comment = string(rest[:end+1])
			stamp = rest[end+1:]
		}
	} else {
		stamp = rest
	}

	if len(stamp) > 0 && (stamp[0] == 1 || stamp[0] == 'D') {
		stamp = stamp[1:]
	}

	if len(stamp) >= 15 {
		if t, ok := parseBCDDates(stamp[:15]); ok {
			ts = t
		}
	}
	return comment, ts, cut
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// parseBCDDates decodes three consecutive 5-byte BCD records (create,
// access, modify — in that order) and returns the modify timestamp,
// preferring it over create per the shared header format. Each record is
// year, month, day, hour, minute; 0xFF in any field means unspecified.
func parseBCDDates(b []byte) (time.Time, bool) {
	if len(b) < 15 {
		return time.Time{}, false
	}
	// create := b[0:5]; access := b[5:10]
	modify := b[10:15]
	if t, ok := parseBCDDate(modify); ok {
		return t, true
	}
	create := b[0:5]
	return parseBCDDate(create)
}

func parseBCDDate(rec []byte) (time.Time, bool) {
	if len(rec) != 5 {
		return time.Time{}, false
	}
	for _, b := range rec {
		if b == 0xFF {
			return time.Time{}, false
		}
	}
	year, ok1 := bcd(rec[0])
	month, ok2 := bcd(rec[1])
	day, ok3 := bcd(rec[2])
	hour, ok4 := bcd(rec[3])
	minute, ok5 := bcd(rec[4])
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	fullYear := year
	if fullYear < 78 {
		fullYear += 2000
	} else {
		fullYear += 1900
	}
	return time.Date(fullYear, time.Month(month), day, hour, minute, 0, 0, time.UTC), true
}

// bcd decodes one binary-coded-decimal byte: high nibble tens, low
// nibble units.
func bcd(b byte) (int, bool) {
	hi, lo := b>>4, b&0x0f
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return int(hi)*10 + int(lo), true
}

// sanitizeName applies the post-processing the shared header format
// requires: strip the high bit, reject control bytes, truncate a
// trailing dot, and cut the extension at the first sub-0x20 byte found
// after the dot.
func sanitizeName(raw []byte) (string, bool) {
	buf := make([]byte, len(raw))
	copy(buf, raw)

	if dot := indexByte(buf, '.'); dot >= 0 {
		end := len(buf)
		for i := dot + 1; i < len(buf); i++ {
			if buf[i]&0x7f < ' ' {
				end = i
				break
			}
		}
		buf = buf[:end]
	}

	for i := range buf {
		buf[i] &= 0x7f
		if buf[i] < ' ' {
			return "", false
		}
	}

	if len(buf) > 0 && buf[len(buf)-1] == '.' {
		buf = buf[:len(buf)-1]
	}

	return string(buf), true
}
