// Package content is the data model shared by every decoder and the
// driver: a Node is one archive member (stored file, compressed file, or
// nested library) with its own input view, output buffer, and children.
package content

import (
	"fmt"
	"time"

	"github.com/cpmarchive/mlbr/internal/cpm/bitio"
)

// Kind is the classification a Node carries once its format has been
// identified.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindStored
	KindSqueezed
	KindCrunched
	KindCrunchV1
	KindCrunchV2
	KindCrLzh
	KindCrLzhV1
	KindCrLzhV2
	KindLibrary
	KindSkipped
	KindMissing
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindStored:
		return "stored"
	case KindSqueezed:
		return "squeezed"
	case KindCrunched:
		return "crunched"
	case KindCrunchV1:
		return "crunch-v1"
	case KindCrunchV2:
		return "crunch-v2"
	case KindCrLzh:
		return "cr-lzh"
	case KindCrLzhV1:
		return "cr-lzh-v1"
	case KindCrLzhV2:
		return "cr-lzh-v2"
	case KindLibrary:
		return "library"
	case KindSkipped:
		return "skipped"
	case KindMissing:
		return "missing"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Status is a bitmask of per-node conditions discovered while parsing or
// decoding.
type Status uint8

const (
	StatusBadCrc Status = 1 << iota
	StatusNoCrc
	StatusTruncated
	StatusIllegalChar
	StatusReserved
	StatusDefDate
	StatusInContainer
)

// Outcome is the result of attempting to decode a Node: a value, not an
// error, since a bad checksum or corrupt body is an expected, reportable
// condition rather than a programming fault.
type Outcome uint8

const (
	Good Outcome = iota
	BadCrc
	Corrupt
	BadHeader
)

func (o Outcome) String() string {
	switch o {
	case Good:
		return "good"
	case BadCrc:
		return "bad-crc"
	case Corrupt:
		return "corrupt"
	case BadHeader:
		return "bad-header"
	default:
		return "unknown"
	}
}

// Result is what a format decoder hands back to its caller.
type Result struct {
	Status Outcome
}

// InView is the read cursor over a Node's compressed/encoded bytes. It
// embeds bitio.View so byte reads, MSB-first bit reads and Squeeze's
// reversed-bit reads all advance the same position field.
type InView struct {
	bitio.View
}

// OutView is the growable decode-output buffer.
type OutView struct {
	Buf []byte
}

// Reserve sizes the buffer's capacity ahead of a decode, from a floor
// of 1KiB or twice the input length, whichever is larger. A no-op once
// anything has been written or aliased in.
func (o *OutView) Reserve(inputLen int) {
	if o.Buf != nil {
		return
	}
	capHint := 1024
	if 2*inputLen > capHint {
		capHint = 2 * inputLen
	}
	o.Buf = make([]byte, 0, capHint)
}

// WriteByte appends c, satisfying io.ByteWriter so decoders (and the RLE
// filter) can write through a standard interface instead of a bespoke
// sink type.
func (o *OutView) WriteByte(c byte) error {
	o.Buf = append(o.Buf, c)
	return nil
}

// Write appends p, satisfying io.Writer.
func (o *OutView) Write(p []byte) (int, error) {
	o.Buf = append(o.Buf, p...)
	return len(p), nil
}

// Node is one member of an archive tree: the root is the file loaded
// from disk, children are its unpacked contents (one per LBR directory
// entry). A compressed file has no children: its decoded bytes go to Out.
type Node struct {
	Kind      Kind
	Status    Status
	Length    int // declared input length: the loaded size for a root, the directory's size for an LBR member
	Name      string
	Comment   string
	Timestamp time.Time // zero if neither a container nor a header supplied one
	Children  []*Node

	// SavePath is the path a sink actually wrote this node to, recorded
	// after the fact so diagnostics can report a rename.
	SavePath string

	In  InView
	Out OutView

	// Msg accumulates human-readable diagnostics for this node so the
	// caller can decide how to surface them instead of the library
	// writing to stderr directly.
	Msg []string

	Parent *Node
}

// NewRoot creates the top-level Node for freshly loaded file bytes.
func NewRoot(name string, data []byte) *Node {
	return &Node{
		Name:   name,
		Length: len(data),
		In:     InView{View: bitio.NewView(data)},
	}
}

// NewChild creates a Node for a sub-region of a parent's input buffer:
// start/length index into buf directly rather than copying, and a
// length that would run past the end of buf is clamped and the node
// marked truncated rather than rejected.
func NewChild(parent *Node, name string, buf []byte, start, length int) *Node {
	n := &Node{
		Name:   name,
		Parent: parent,
	}
	end := start + length
	truncated := false
	if start > len(buf) {
		start = len(buf)
	}
	if end > len(buf) || end < start {
		end = len(buf)
		truncated = true
	}
	n.Length = length
	n.In = InView{View: bitio.NewView(buf[start:end])}
	if truncated {
		n.Status |= StatusTruncated
	}
	if parent != nil {
		parent.Children = append(parent.Children, n)
	}
	return n
}

// Logf appends a formatted diagnostic line to the node.
func (n *Node) Logf(format string, args ...any) {
	n.Msg = append(n.Msg, fmt.Sprintf(format, args...))
}
