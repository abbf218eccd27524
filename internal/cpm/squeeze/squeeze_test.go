package squeeze

import (
	"testing"

	"github.com/cpmarchive/mlbr/internal/cpm/content"
	"github.com/cpmarchive/mlbr/internal/cpm/crc"
)

func u16le(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }

// buildFile assembles a minimal Squeezed body: magic, crc, NUL-terminated
// name, node count, node pairs.
func buildFile(crcVal uint16, name string, nodes [][2]int16) []byte {
	buf := u16le(Magic)
	buf = append(buf, u16le(crcVal)...)
	buf = append(buf, []byte(name)...)
	buf = append(buf, 0)
	buf = append(buf, u16le(uint16(len(nodes)))...)
	for _, pair := range nodes {
		buf = append(buf, u16le(uint16(pair[0]))...)
		buf = append(buf, u16le(uint16(pair[1]))...)
	}
	return buf
}

func TestDecodeEmptyTreeProducesEmptyOutput(t *testing.T) {
	data := buildFile(0, "EMPTY.TXT", nil)
	n := content.NewRoot("t", data)
	r := Decode(n)
	if r.Status != content.Good {
		t.Fatalf("Decode() status = %v, want Good", r.Status)
	}
	if len(n.Out.Buf) != 0 {
		t.Fatalf("Out.Buf = %v, want empty", n.Out.Buf)
	}
	if n.Name != "EMPTY.TXT" {
		t.Fatalf("Name = %q, want EMPTY.TXT", n.Name)
	}
}

// TestDecodeSingleSymbolTree builds a one-node tree whose both children
// are the same leaf so every bit decodes to the same symbol, then
// decodes a single 'a' followed by EOF (bitstream exhaustion).
func TestDecodeSingleSymbolTree(t *testing.T) {
	// leaf symbol 'a' is encoded as child index -('a'+1).
	leaf := -(int('a') + 1)
	nodes := [][2]int16{{int16(leaf), int16(leaf)}}
	// one bitstream byte: any bits decode to the single leaf repeatedly
	// until the stream runs out. Use 0x00 so ReadBitRev's sentinel yields
	// exactly 8 bits before EOF.
	want := crc.Sum16([]byte{'a', 'a', 'a', 'a', 'a', 'a', 'a', 'a'})
	data := buildFile(want, "A.TXT", nodes)
	data = append(data, 0x00)

	n := content.NewRoot("t", data)
	r := Decode(n)
	if r.Status != content.Good {
		t.Fatalf("Decode() status = %v, want Good", r.Status)
	}
	if string(n.Out.Buf) != "aaaaaaaa" {
		t.Fatalf("Out.Buf = %q, want %q", n.Out.Buf, "aaaaaaaa")
	}
}

func TestDecodeBadCrc(t *testing.T) {
	data := buildFile(0xffff, "EMPTY.TXT", nil)
	n := content.NewRoot("t", data)
	r := Decode(n)
	if r.Status != content.BadCrc {
		t.Fatalf("Decode() status = %v, want BadCrc", r.Status)
	}
}

func TestDecodeBadHeaderMissingTerminator(t *testing.T) {
	data := u16le(Magic)
	data = append(data, u16le(0)...)
	data = append(data, []byte("NOTERM")...) // no trailing NUL
	n := content.NewRoot("t", data)
	r := Decode(n)
	if r.Status != content.BadHeader {
		t.Fatalf("Decode() status = %v, want BadHeader", r.Status)
	}
}

func TestDecodeCorruptTreeTableTruncated(t *testing.T) {
	data := buildFile(0, "X.TXT", nil)
	// claim two nodes but provide none
	data[len(data)-2] = 2
	data[len(data)-1] = 0
	n := content.NewRoot("t", data)
	r := Decode(n)
	if r.Status != content.Corrupt {
		t.Fatalf("Decode() status = %v, want Corrupt", r.Status)
	}
}
