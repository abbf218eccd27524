// Package squeeze decodes CP/M "Squeezed" files: a static Huffman tree
// followed by an RLE-filtered bitstream, verified by an additive
// checksum.
package squeeze

import (
	"github.com/cpmarchive/mlbr/internal/cpm/content"
	"github.com/cpmarchive/mlbr/internal/cpm/crc"
	"github.com/cpmarchive/mlbr/internal/cpm/header"
	"github.com/cpmarchive/mlbr/internal/cpm/rle"
)

// Magic is the two-byte little-endian signature (0xFF76 on the wire, low
// byte first) that identifies a Squeezed file.
const Magic = 0xFF76

const maxNode = 256

type node struct {
	child [2]int
}

// Decode parses and unpacks a Squeezed file's body into n.Out, returning
// the outcome: BadHeader if the preamble cannot be parsed, Corrupt if the
// tree table runs past the input, Good/BadCrc otherwise.
func Decode(n *content.Node) content.Result {
	parsed, ok := header.Parse(n, true)
	if !ok {
		return content.Result{Status: content.BadHeader}
	}
	n.Name = parsed.Name
	n.Comment = parsed.Comment
	if !parsed.Timestamp.IsZero() {
		n.Timestamp = parsed.Timestamp
	}

	nodeCnt := n.In.ReadU16()
	if nodeCnt < 0 || nodeCnt > maxNode {
		return content.Result{Status: content.BadHeader}
	}
	n.Out.Reserve(n.In.Len())

	nodes := make([]node, maxNode+1)
	// Sentinel EOF leaf for the empty-tree case; real entries (if any)
	// below overwrite node[0].
	nodes[0].child[0] = -(maxNode + 1)
	nodes[0].child[1] = -(maxNode + 1)

	for i := 0; i < nodeCnt; i++ {
		if n.In.AtEOF() {
			return content.Result{Status: content.Corrupt}
		}
		c0 := n.In.ReadI16()
		c1 := n.In.ReadI16()
		// A non-negative child must index back into the table and a leaf
		// must name a symbol in [0, maxNode]; anything else is an
		// impossible tree.
		if c0 > maxNode || c0 < -(maxNode+1) || c1 > maxNode || c1 < -(maxNode+1) {
			return content.Result{Status: content.BadHeader}
		}
		nodes[i].child[0] = c0
		nodes[i].child[1] = c1
	}

	var filter rle.Filter
	filter.Reset()
	for {
		sym, done := walkTree(nodes, &n.In)
		if done {
			break
		}
		if err := filter.Feed(byte(sym), &n.Out); err != nil {
			return content.Result{Status: content.Corrupt}
		}
	}

	n.In.Seek(2)
	want := n.In.ReadU16()
	if want < 0 || crc.Sum16(n.Out.Buf) != uint16(want) {
		return content.Result{Status: content.BadCrc}
	}
	return content.Result{Status: content.Good}
}

// walkTree descends the Huffman tree one bit at a time until it reaches
// a leaf or the stream ends. Running off the end of the input mid-walk
// is treated exactly like reaching the tree's own EOF leaf (symbol
// maxNode); the checksum that follows is what actually separates a
// clean decode from a truncated one.
func walkTree(nodes []node, in interface{ ReadBitRev() int }) (sym int, done bool) {
	i := 0
	var cbit int
	for i >= 0 {
		cbit = in.ReadBitRev()
		if cbit < 0 {
			break
		}
		i = nodes[i].child[cbit]
	}
	i = -(i + 1)
	if cbit < 0 || i == maxNode {
		return 0, true
	}
	return i, false
}
