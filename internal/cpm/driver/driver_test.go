package driver

import (
	"testing"

	"github.com/cpmarchive/mlbr/internal/cpm/content"
	"github.com/cpmarchive/mlbr/internal/cpm/crc"
)

func u16le(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }

func buildSqueezeFile(name string, body []byte) []byte {
	want := crc.Sum16(body)
	buf := u16le(0xFF76)
	buf = append(buf, u16le(want)...)
	buf = append(buf, []byte(name)...)
	buf = append(buf, 0)
	buf = append(buf, u16le(0)...) // zero nodes: empty-tree decodes to nothing
	return buf
}

func TestProcessFileTopLevelStoredIsSkipped(t *testing.T) {
	// A bare top-level file carries no INCONTAINER status, so it is
	// unconditionally skipped rather than stored.
	n := content.NewRoot("plain.txt", []byte("hello world"))
	got := ProcessFile(n, Options{})
	if got != 0 {
		t.Fatalf("ProcessFile() = %d, want 0", got)
	}
	if n.Kind != content.KindSkipped {
		t.Fatalf("Kind = %v, want KindSkipped", n.Kind)
	}
}

func TestProcessFileSqueezeGood(t *testing.T) {
	data := buildSqueezeFile("a.txt", nil)
	n := content.NewRoot("a.txt", data)
	got := ProcessFile(n, Options{})
	if got != 1 {
		t.Fatalf("ProcessFile() = %d, want 1", got)
	}
	if n.Kind != content.KindSqueezed {
		t.Fatalf("Kind = %v, want KindSqueezed", n.Kind)
	}
	if len(n.Out.Buf) != 0 {
		t.Fatalf("Out.Buf = %v, want empty", n.Out.Buf)
	}
}

func TestProcessFileBadCrcFallsBackToStored(t *testing.T) {
	data := buildSqueezeFile("a.txt", nil)
	// corrupt the stored CRC word at offset 2.
	data[2] ^= 0xff
	n := content.NewRoot("a.txt", data)
	got := ProcessFile(n, Options{})
	// A top-level file has no INCONTAINER status, so the stored fallback
	// is still unconditionally skipped.
	if got != 0 {
		t.Fatalf("ProcessFile() = %d, want 0", got)
	}
	if n.Kind != content.KindSkipped {
		t.Fatalf("Kind = %v, want KindSkipped after BadCrc fallback", n.Kind)
	}
	if len(n.Msg) == 0 {
		t.Fatal("expected a diagnostic message to be recorded")
	}
}

func TestProcessFileMissingIsSkipped(t *testing.T) {
	n := content.NewRoot("empty", nil)
	got := ProcessFile(n, Options{})
	if got != 0 {
		t.Fatalf("ProcessFile() = %d, want 0", got)
	}
	if n.Kind != content.KindMissing {
		t.Fatalf("Kind = %v, want KindMissing", n.Kind)
	}
}

// buildLbr assembles a one-sector directory with the given members laid
// out back to back right after it, computing CRCs for both the members
// and the directory itself.
type member struct {
	name8, ext3  string
	payload      []byte
	declaredSecs int // sectors claimed in the directory (may exceed payload)
}

func buildLbr(members []member) []byte {
	const sectorSize = 128
	const dirRecSize = 32
	dir := make([]byte, sectorSize)
	for i := 1; i < 12; i++ {
		dir[i] = ' '
	}
	dir[14] = 1 // entry0 Length = 1 sector

	body := []byte{}
	off := dirRecSize
	for _, m := range members {
		secs := m.declaredSecs
		if secs == 0 {
			secs = (len(m.payload) + sectorSize - 1) / sectorSize
		}
		index := 1 + len(body)/sectorSize
		for i := 0; i < 8; i++ {
			if i < len(m.name8) {
				dir[off+1+i] = m.name8[i]
			} else {
				dir[off+1+i] = ' '
			}
		}
		for i := 0; i < 3; i++ {
			if i < len(m.ext3) {
				dir[off+9+i] = m.ext3[i]
			} else {
				dir[off+9+i] = ' '
			}
		}
		dir[off+12] = byte(index)
		dir[off+13] = byte(index >> 8)
		dir[off+14] = byte(secs)
		dir[off+15] = byte(secs >> 8)

		padded := make([]byte, secs*sectorSize)
		copy(padded, m.payload)
		actualCrc := crc.CCITT16(padded)
		dir[off+16] = byte(actualCrc)
		dir[off+17] = byte(actualCrc >> 8)

		body = append(body, padded...)
		off += dirRecSize
	}

	zeroed := make([]byte, len(dir))
	copy(zeroed, dir)
	zeroed[16] = 0
	zeroed[17] = 0
	dirCrc := crc.CCITT16(zeroed)
	dir[16] = byte(dirCrc)
	dir[17] = byte(dirCrc >> 8)

	return append(dir, body...)
}

func TestProcessFileLbrWithTruncatedMember(t *testing.T) {
	buf := buildLbr([]member{
		{name8: "HELLO", ext3: "TXT", payload: []byte("hello, cp/m")},
		{name8: "TRUNC", ext3: "TXT", payload: []byte("ab"), declaredSecs: 4},
	})
	// Chop off everything but the first member's declared sector plus
	// one partial sector of the second, so TRUNC.TXT is short.
	buf = buf[:128+128+128]

	n := content.NewRoot("ARCHIVE.LBR", buf)
	got := ProcessFile(n, Options{})
	// HELLO.TXT is stored (in-container, not truncated); TRUNC.TXT is
	// in-container but truncated and Force is unset, so it is skipped.
	if got != 1 {
		t.Fatalf("ProcessFile() = %d, want 1 (truncated member skipped without Force)", got)
	}
	if n.Kind != content.KindLibrary {
		t.Fatalf("Kind = %v, want KindLibrary", n.Kind)
	}
	if len(n.Children) != 2 {
		t.Fatalf("len(Children) = %d, want 2", len(n.Children))
	}
	trunc := n.Children[1]
	if trunc.Status&content.StatusTruncated == 0 {
		t.Fatal("expected TRUNC.TXT to be marked Truncated")
	}
	if trunc.Kind != content.KindSkipped {
		t.Fatalf("TRUNC.TXT Kind = %v, want KindSkipped", trunc.Kind)
	}
	if trunc.In.Len() != 128 {
		t.Fatalf("TRUNC.TXT In.Len() = %d, want 128", trunc.In.Len())
	}
}

func TestProcessFileNestedLbrRequiresRecurseFlag(t *testing.T) {
	inner := buildLbr([]member{{name8: "LEAF", ext3: "TXT", payload: []byte("x")}})
	outer := buildLbr([]member{{name8: "INNER", ext3: "LBR", payload: inner}})

	n := content.NewRoot("OUTER.LBR", outer)
	got := ProcessFile(n, Options{})
	if got != 1 {
		t.Fatalf("ProcessFile() without Recurse = %d, want 1", got)
	}
	if n.Children[0].Kind != content.KindStored {
		t.Fatalf("nested LBR Kind = %v, want KindStored without Recurse", n.Children[0].Kind)
	}

	n2 := content.NewRoot("OUTER.LBR", outer)
	got2 := ProcessFile(n2, Options{Recurse: true})
	if got2 != 1 {
		t.Fatalf("ProcessFile() with Recurse = %d, want 1 (one leaf member)", got2)
	}
	if n2.Children[0].Kind != content.KindLibrary {
		t.Fatalf("nested LBR Kind = %v, want KindLibrary with Recurse", n2.Children[0].Kind)
	}
	if len(n2.Children[0].Children) != 1 || n2.Children[0].Children[0].Name != "LEAF.TXT" {
		t.Fatal("expected the nested LBR's LEAF.TXT member to surface")
	}
}
