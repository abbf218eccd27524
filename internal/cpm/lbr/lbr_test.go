package lbr

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cpmarchive/mlbr/internal/cpm/content"
	"github.com/cpmarchive/mlbr/internal/cpm/crc"
)

// buildDir assembles a one-sector (4-record) LBR directory: entry 0
// (the header, declaring dirSectors sectors of directory) followed by
// the given member records, padded with empty (all-zero status byte but
// otherwise zeroed) records up to dirSectors*128 bytes. Member records
// are {name8, ext3, index, length, crc, createDate, changeDate,
// createTime, changeTime}.
type memberRec struct {
	name8, ext3            string
	index, length          int
	crc                    uint16
	createDate, changeDate int
	createTime, changeTime int
}

func putU16(b []byte, off, v int) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func buildDir(dirSectors int, members []memberRec) []byte {
	dirSize := dirSectors * sectorSize
	buf := make([]byte, dirSize)
	// entry 0: status 0, name/ext spaces, index 0, length=dirSectors
	for i := offName; i < offIndex; i++ {
		buf[i] = ' '
	}
	putU16(buf, offLength, dirSectors)

	off := dirRecSize
	for _, m := range members {
		for i := 0; i < 8; i++ {
			if i < len(m.name8) {
				buf[off+offName+i] = m.name8[i]
			} else {
				buf[off+offName+i] = ' '
			}
		}
		for i := 0; i < 3; i++ {
			if i < len(m.ext3) {
				buf[off+offExt+i] = m.ext3[i]
			} else {
				buf[off+offExt+i] = ' '
			}
		}
		putU16(buf, off+offIndex, m.index)
		putU16(buf, off+offLength, m.length)
		putU16(buf, off+offCrc, int(m.crc))
		putU16(buf, off+offCreateDate, m.createDate)
		putU16(buf, off+offChangeDate, m.changeDate)
		putU16(buf, off+offCreateTime, m.createTime)
		putU16(buf, off+offChangeTime, m.changeTime)
		off += dirRecSize
	}

	// Stamp the directory CRC over the whole thing with entry 0's CRC
	// field zeroed, then write it in.
	zeroed := make([]byte, len(buf))
	copy(zeroed, buf)
	zeroed[offCrc] = 0
	zeroed[offCrc+1] = 0
	putU16(buf, offCrc, int(crc.CCITT16(zeroed)))
	return buf
}

func TestIsLibraryRecognizesHeaderPattern(t *testing.T) {
	buf := buildDir(1, nil)
	if !IsLibrary(buf) {
		t.Fatal("IsLibrary() = false, want true for a well-formed directory header")
	}
}

func TestIsLibraryRejectsShortOrMismatchedBuffers(t *testing.T) {
	if IsLibrary([]byte{0x00, 0x20}) {
		t.Fatal("IsLibrary() = true for a too-short buffer")
	}
	buf := buildDir(1, nil)
	buf[offName] = 'X'
	if IsLibrary(buf) {
		t.Fatal("IsLibrary() = true for a non-space Name byte")
	}
}

func TestParseExtractsMembersInOriginalOrder(t *testing.T) {
	dir := buildDir(1, []memberRec{
		{name8: "HELLO", ext3: "TXT", index: 1, length: 1},
		{name8: "WORLD", ext3: "TXT", index: 2, length: 1},
	})
	payload := make([]byte, 2*sectorSize)
	copy(payload[0:], []byte("hello"))
	copy(payload[sectorSize:], []byte("world"))
	buf := append(dir, payload...)

	// Fix up member CRCs against their actual sliced bytes, and
	// recompute the directory CRC since the members carry nonzero CRC
	// fields now.
	recompute(t, buf, 1, []memberRec{
		{index: 1, length: 1},
		{index: 2, length: 1},
	})

	n := content.NewRoot("TEST.LBR", buf)
	if !IsLibrary(n.In.Buf) {
		t.Fatal("IsLibrary() = false for constructed archive")
	}
	if !Parse(n) {
		t.Fatal("Parse() = false")
	}
	if len(n.Children) != 2 {
		t.Fatalf("len(Children) = %d, want 2", len(n.Children))
	}
	gotNames := []string{n.Children[0].Name, n.Children[1].Name}
	wantNames := []string{"HELLO.TXT", "WORLD.TXT"}
	if diff := cmp.Diff(wantNames, gotNames); diff != "" {
		t.Fatalf("Children names mismatch (-want +got):\n%s", diff)
	}
	if n.Status&content.StatusBadCrc != 0 {
		t.Fatalf("directory Status = %v, want no BadCrc", n.Status)
	}
	for _, c := range n.Children {
		if c.Status&content.StatusBadCrc != 0 {
			t.Fatalf("child %q Status = %v, want no BadCrc", c.Name, c.Status)
		}
	}
}

// recompute patches crc fields for members at dirSectors*128 and
// recomputes the directory CRC, given the already-laid-out buf.
func recompute(t *testing.T, buf []byte, dirSectors int, members []memberRec) {
	t.Helper()
	dirSize := dirSectors * sectorSize
	off := dirRecSize
	for _, m := range members {
		start := m.index * sectorSize
		end := start + m.length*sectorSize
		putU16(buf, off+offCrc, int(crc.CCITT16(buf[start:end])))
		off += dirRecSize
	}
	zeroed := make([]byte, dirSize)
	copy(zeroed, buf[:dirSize])
	zeroed[offCrc] = 0
	zeroed[offCrc+1] = 0
	putU16(buf, offCrc, int(crc.CCITT16(zeroed)))
}

func TestParseFlagsTruncatedMember(t *testing.T) {
	dir := buildDir(1, []memberRec{
		{name8: "TRUNC", ext3: "TXT", index: 1, length: 4},
	})
	buf := append(dir, make([]byte, 2*sectorSize)...) // declared 4 sectors, only 2 present

	n := content.NewRoot("TEST.LBR", buf)
	if !Parse(n) {
		t.Fatal("Parse() = false")
	}
	if len(n.Children) != 1 {
		t.Fatalf("len(Children) = %d, want 1", len(n.Children))
	}
	c := n.Children[0]
	if c.Status&content.StatusTruncated == 0 {
		t.Fatal("expected member to be marked Truncated")
	}
	if c.In.Len() != 256 {
		t.Fatalf("In.Len() = %d, want 256", c.In.Len())
	}
}

func TestParseDirectoryCrcZeroMeansNoCrc(t *testing.T) {
	dir := buildDir(1, nil)
	putU16(dir, offCrc, 0)
	n := content.NewRoot("TEST.LBR", dir)
	if !Parse(n) {
		t.Fatal("Parse() = false")
	}
	if n.Status&content.StatusNoCrc == 0 {
		t.Fatal("expected StatusNoCrc for a zero directory CRC")
	}
	if n.Status&content.StatusBadCrc != 0 {
		t.Fatal("a zero CRC should not be flagged BadCrc")
	}
}
