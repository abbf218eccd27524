// Package lbr parses the CP/M LBR container format: a directory of
// 32-byte records, itself covering an integral number of 128-byte
// sectors, describing member files packed end-to-end in the same file.
package lbr

import (
	"time"

	"github.com/cpmarchive/mlbr/internal/cpm/content"
	"github.com/cpmarchive/mlbr/internal/cpm/crc"
)

// Magic is the first little-endian 16-bit word of an LBR file: byte 0 is
// always 0 (the first directory record's Status field) and byte 1 is
// always the space character, so the magic and the directory-layout
// check below overlap by design.
const Magic = 0x2000

const (
	sectorSize = 128
	dirRecSize = 32

	offStatus     = 0
	offName       = 1
	offExt        = 9
	offIndex      = 12
	offLength     = 14
	offCrc        = 16
	offCreateDate = 18
	offChangeDate = 20
	offCreateTime = 22
	offChangeTime = 24
)

// cpmEpoch is CP/M day zero: 1977-12-31 UTC. Directory dates count days
// from it.
var cpmEpoch = time.Date(1977, time.December, 31, 0, 0, 0, 0, time.UTC)

// maxLbrDay bounds a plausible directory date, rejecting obviously
// garbage day values rather than producing a wild timestamp.
const maxLbrDay = (2030 - 1978) * 365

func u16(b []byte, off int) int {
	if off+1 >= len(b) {
		return -1
	}
	return int(b[off]) | int(b[off+1])<<8
}

// IsLibrary reports whether buf's first 16-bit word and first 128 bytes
// match an LBR directory header: an entry-0 record with Status 0, eleven
// space-padded Name/Ext bytes, and a zero Index.
func IsLibrary(buf []byte) bool {
	if len(buf) < sectorSize {
		return false
	}
	if u16(buf, 0) != Magic {
		return false
	}
	if buf[offStatus] != 0 {
		return false
	}
	for i := offName; i < offIndex; i++ {
		if buf[i] != ' ' {
			return false
		}
	}
	return buf[offIndex] == 0 && buf[offIndex+1] == 0
}

// Parse walks n's LBR directory, appending one child Node per non-empty
// directory record in directory order.
func Parse(n *content.Node) bool {
	buf := n.In.Buf
	dirSectors := u16(buf, offLength)
	if dirSectors < 0 {
		return false
	}
	dirSize := dirSectors * sectorSize
	if dirSize > len(buf) {
		return false
	}
	if dirSize == 0 {
		// A zero-sector directory has no entries to walk and nothing to
		// checksum: an empty, valid library.
		return true
	}

	dirCopy := make([]byte, dirSize)
	copy(dirCopy, buf[:dirSize])
	storedCrc := uint16(u16(dirCopy, offCrc))
	dirCopy[offCrc] = 0
	dirCopy[offCrc+1] = 0
	if got := crc.CCITT16(dirCopy); got != storedCrc {
		if storedCrc != 0 && storedCrc != 0xffff {
			n.Status |= content.StatusBadCrc
		} else {
			n.Status |= content.StatusNoCrc
		}
	}

	for off := dirRecSize; off < dirSize; off += dirRecSize {
		if buf[off+offStatus] != 0 {
			continue
		}
		rb := buf[off : off+dirRecSize]
		// An all-zero record is an unused slot, not a member.
		empty := true
		for _, b := range rb {
			if b != 0 {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		name := entryName(rb)
		start := u16(rb, offIndex) * sectorSize
		length := u16(rb, offLength) * sectorSize

		child := content.NewChild(n, name, buf, start, length)
		child.Status |= content.StatusInContainer
		if child.Status&content.StatusTruncated != 0 && child.In.Len() == 0 {
			child.Logf("missing all data")
		}

		if ts, ok := entryTime(rb); ok {
			child.Timestamp = ts
		}

		wantCrc := uint16(u16(rb, offCrc))
		if got := crc.CCITT16(child.In.Buf); got != wantCrc {
			if wantCrc != 0 && wantCrc != 0xffff {
				child.Status |= content.StatusBadCrc
			} else {
				child.Status |= content.StatusNoCrc
			}
		}

		// Pad-count adjustment is deliberately skipped: the field is
		// unreliable in observed archives, compressed members carry
		// their own end markers, and stored files are fine rounded up
		// to a sector boundary.
	}

	return true
}

// entryName reconstructs "NAME.EXT" from the padded 8.3 fields, masking
// the high bit and stopping each field at its first space. Case folding
// is a presentation concern left to the save-time collaborators.
func entryName(rb []byte) string {
	buf := make([]byte, 0, 12)
	for i := offName; i < offName+8; i++ {
		c := rb[i] & 0x7f
		if c == ' ' {
			break
		}
		buf = append(buf, c)
	}
	if rb[offExt]&0x7f != ' ' {
		buf = append(buf, '.')
		for i := offExt; i < offExt+3; i++ {
			c := rb[i] & 0x7f
			if c == ' ' {
				break
			}
			buf = append(buf, c)
		}
	}
	return string(buf)
}

// entryTime prefers the change date, falling back to the create date.
// The change time field is read in both branches; archives in the wild
// rarely populate the create time.
func entryTime(rb []byte) (time.Time, bool) {
	day := u16(rb, offChangeDate)
	if day <= 0 {
		day = u16(rb, offCreateDate)
	}
	raw := u16(rb, offChangeTime)
	if day <= 0 || raw < 0 {
		return time.Time{}, false
	}
	if day >= maxLbrDay {
		return time.Time{}, false
	}

	hour := raw >> 11
	minute := (raw >> 5) & 0x3f
	halfSecs := raw & 0x1f
	if hour > 23 || minute > 59 || halfSecs > 29 {
		return time.Time{}, false
	}
	secs := hour*3600 + minute*60 + halfSecs*2

	return cpmEpoch.Add(time.Duration(day)*24*time.Hour + time.Duration(secs)*time.Second), true
}
