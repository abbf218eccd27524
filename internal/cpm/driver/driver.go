// Package driver implements the recursive dispatcher that classifies a
// loaded file, invokes the matching decoder, descends into LBR
// libraries, and applies the documented failure-fallback policy.
package driver

import (
	"github.com/cpmarchive/mlbr/internal/cpm/content"
	"github.com/cpmarchive/mlbr/internal/cpm/crlzh"
	"github.com/cpmarchive/mlbr/internal/cpm/crunch"
	"github.com/cpmarchive/mlbr/internal/cpm/lbr"
	"github.com/cpmarchive/mlbr/internal/cpm/squeeze"
)

// Options controls the user-overridable parts of the dispatch policy.
type Options struct {
	// IgnoreCrc keeps a decoded buffer whose trailer checksum mismatched
	// instead of falling back to the stored original bytes.
	IgnoreCrc bool
	// IgnoreCorrupt extends the same leniency to a mid-stream decode
	// failure, retaining whatever partial output was produced.
	IgnoreCorrupt bool
	// Force writes truncated in-container members that would otherwise
	// be skipped.
	Force bool
	// Recurse allows descending into an LBR found nested inside another
	// LBR (depth > 0); the outermost file is always descended.
	Recurse bool
}

// ProcessFile classifies n, decodes or descends into it as appropriate,
// and returns the number of non-skipped, non-missing members now present
// in the tree rooted at n — the save pass uses this to decide whether
// there is anything worth writing out.
func ProcessFile(n *content.Node, opts Options) int {
	return processAt(n, opts, 0)
}

func processAt(n *content.Node, opts Options, depth int) int {
	n.Kind = classify(n)

	switch n.Kind {
	case content.KindSqueezed:
		return finishDecode(n, squeeze.Decode(n), opts)

	case content.KindCrunched:
		return finishDecode(n, crunch.Decode(n), opts)

	case content.KindCrLzh:
		return finishDecode(n, crlzh.Decode(n), opts)

	case content.KindLibrary:
		if depth > 0 && !opts.Recurse {
			n.Kind = content.KindStored
			return finishStored(n, opts)
		}
		if !lbr.Parse(n) {
			n.Logf("%s is corrupt, processing as normal file", n.Kind)
			n.Kind = content.KindStored
			return finishStored(n, opts)
		}
		valid := 0
		for _, c := range n.Children {
			valid += processAt(c, opts, depth+1)
		}
		return valid

	case content.KindMissing:
		return 0

	default: // Stored
		return finishStored(n, opts)
	}
}

// classify identifies n's format from its leading bytes. It does not
// consume n.In's cursor permanently: every decoder re-seeks to its own
// header offset before reading.
func classify(n *content.Node) content.Kind {
	buf := n.In.Buf
	if len(buf) == 0 {
		return content.KindMissing
	}
	if lbr.IsLibrary(buf) {
		return content.KindLibrary
	}
	if len(buf) < 2 {
		return content.KindStored
	}
	word := int(buf[0]) | int(buf[1])<<8
	switch word {
	case crlzh.Magic:
		return content.KindCrLzh
	case crunch.Magic:
		return content.KindCrunched
	case squeeze.Magic:
		return content.KindSqueezed
	default:
		return content.KindStored
	}
}

// finishDecode applies a decoder's Result: a Good outcome keeps the
// decoded buffer, any other outcome records a diagnostic and falls back
// to storing the original bytes unless the matching ignore-flag asks to
// keep the partial output instead. Users extracting historic libraries
// usually prefer a byte-identical stored copy to nothing.
func finishDecode(n *content.Node, r content.Result, opts Options) int {
	if r.Status == content.Good {
		return 1
	}

	n.Logf("%s [%s] is corrupt, processing as normal file", n.Name, r.Status)

	switch r.Status {
	case content.BadCrc:
		if opts.IgnoreCrc {
			return 1
		}
	case content.Corrupt:
		if opts.IgnoreCorrupt {
			return 1
		}
	}

	n.Out.Buf = n.In.Buf
	n.Kind = content.KindStored
	return finishStored(n, opts)
}

// finishStored applies the skip policy for members that end up stored
// as-is: a node is only ever stored when it came from inside a
// container, and even then a truncated one is skipped unless Force is
// set. A node with no in-container status — a bare top-level file, or a
// top-level archive whose directory failed to parse — is unconditionally
// skipped.
func finishStored(n *content.Node, opts Options) int {
	inContainer := n.Status&content.StatusInContainer != 0
	truncated := n.Status&content.StatusTruncated != 0
	if !inContainer || (truncated && !opts.Force) {
		n.Kind = content.KindSkipped
		return 0
	}
	if n.Out.Buf == nil {
		n.Out.Buf = n.In.Buf
	}
	return 1
}
