// Package crlzh decodes CP/M "Cr-Lzh" files: an LZSS sliding-dictionary
// matcher whose literal/length/distance symbols are themselves
// compressed with an adaptive (Vitter-style) Huffman tree.
package crlzh

import (
	"github.com/cpmarchive/mlbr/internal/cpm/content"
	"github.com/cpmarchive/mlbr/internal/cpm/crc"
	"github.com/cpmarchive/mlbr/internal/cpm/header"
)

// Magic is the two-byte little-endian signature (0xFD76 on the wire, low
// byte first) identifying a Cr-Lzh file.
const Magic = 0xFD76

const (
	lzN       = 2048 // sliding dictionary size
	lzF       = 60   // maximum match length
	threshold = 2

	eofCode = 256

	nChar   = 256 + 1 - threshold + lzF // 315: literal/length alphabet size
	lzT     = nChar*2 - 1               // 629: Huffman table size
	lzR     = lzT - 1                   // 628: root index
	maxFreq = 0x8000
)

// dCode/dLen decode the upper six bits of a sliding-dictionary
// position from the 8 bits read for it; the coefficients are LZHUF's
// public-domain tables, carried verbatim.
var dCode = [256]byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01,
	0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02,
	0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03,
	0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05,
	0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07,
	0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x09, 0x09, 0x09, 0x09, 0x09, 0x09, 0x09, 0x09,
	0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0B, 0x0B, 0x0B, 0x0B, 0x0B, 0x0B, 0x0B, 0x0B,
	0x0C, 0x0C, 0x0C, 0x0C, 0x0D, 0x0D, 0x0D, 0x0D, 0x0E, 0x0E, 0x0E, 0x0E, 0x0F, 0x0F, 0x0F, 0x0F,
	0x10, 0x10, 0x10, 0x10, 0x11, 0x11, 0x11, 0x11, 0x12, 0x12, 0x12, 0x12, 0x13, 0x13, 0x13, 0x13,
	0x14, 0x14, 0x14, 0x14, 0x15, 0x15, 0x15, 0x15, 0x16, 0x16, 0x16, 0x16, 0x17, 0x17, 0x17, 0x17,
	0x18, 0x18, 0x19, 0x19, 0x1A, 0x1A, 0x1B, 0x1B, 0x1C, 0x1C, 0x1D, 0x1D, 0x1E, 0x1E, 0x1F, 0x1F,
	0x20, 0x20, 0x21, 0x21, 0x22, 0x22, 0x23, 0x23, 0x24, 0x24, 0x25, 0x25, 0x26, 0x26, 0x27, 0x27,
	0x28, 0x28, 0x29, 0x29, 0x2A, 0x2A, 0x2B, 0x2B, 0x2C, 0x2C, 0x2D, 0x2D, 0x2E, 0x2E, 0x2F, 0x2F,
	0x30, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E, 0x3F,
}

var dLen = [256]byte{
	0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03,
	0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03, 0x03,
	0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04,
	0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04,
	0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04,
	0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05,
	0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05,
	0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05,
	0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05, 0x05,
	0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06,
	0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06,
	0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06, 0x06,
	0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07,
	0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07,
	0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07, 0x07,
	0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08, 0x08,
}

// decoder holds one Cr-Lzh decode's adaptive-tree and sliding-window
// state. Per-call, not global, so concurrent decodes never collide.
type decoder struct {
	oldVer bool // V1 keeps 6 low position bits (dLen-2 extra bits) instead of V2's 5 (dLen-3)

	freq [lzT + 1]uint32
	prnt [lzT + nChar]int
	son  [lzT + 1]int

	textBuf [lzN + lzF - 1]byte
	r       int
}

func newDecoder(oldVer bool) *decoder {
	d := &decoder{oldVer: oldVer}
	d.startHuff()
	d.r = lzN - lzF
	for i := 0; i < d.r; i++ {
		d.textBuf[i] = ' '
	}
	return d
}

func (d *decoder) startHuff() {
	for i := 0; i < nChar; i++ {
		d.freq[i] = 1
		d.son[i] = i + lzT
		d.prnt[i+lzT] = i
	}
	i, j := 0, nChar
	for ; j <= lzR; i, j = i+2, j+1 {
		d.freq[j] = d.freq[i] + d.freq[i+1]
		d.son[j] = i
		d.prnt[i] = j
		d.prnt[i+1] = j
	}
	d.freq[lzT] = 0xffff
	d.prnt[lzR] = 0
}

func (d *decoder) reconst() {
	j := 0
	for i := 0; i < lzT; i++ {
		if d.son[i] >= lzT {
			d.freq[j] = (d.freq[i] + 1) / 2
			d.son[j] = d.son[i]
			j++
		}
	}
	i := 0
	for j := nChar; j < lzT; i, j = i+2, j+1 {
		f := d.freq[i] + d.freq[i+1]
		k := j
		for ; f < d.freq[k-1]; k-- {
			d.freq[k] = d.freq[k-1]
			d.son[k] = d.son[k-1]
		}
		d.freq[k] = f
		d.son[k] = i
	}
	for i := 0; i < lzT; i++ {
		k := d.son[i]
		if k >= lzT {
			d.prnt[k] = i
		} else {
			d.prnt[k] = i
			d.prnt[k+1] = i
		}
	}
}

func (d *decoder) update(c int) {
	if d.freq[lzR] == maxFreq {
		d.reconst()
	}
	c = d.prnt[c+lzT]
	for {
		d.freq[c]++
		k := d.freq[c]

		l := c + 1
		if k > d.freq[l] {
			for k > d.freq[l+1] {
				l++
			}
			d.freq[c] = d.freq[l]
			d.freq[l] = k

			i := d.son[c]
			d.prnt[i] = l
			if i < lzT {
				d.prnt[i+1] = l
			}

			j := d.son[l]
			d.son[l] = i

			d.prnt[j] = c
			if j < lzT {
				d.prnt[j+1] = c
			}
			d.son[c] = j

			c = l
		}
		c = d.prnt[c]
		if c == 0 {
			break
		}
	}
}

type bitSource interface {
	ReadBits(n int) int
}

func (d *decoder) decodeChar(in bitSource) int {
	c := d.son[lzR]
	for c < lzT {
		bit := in.ReadBits(1)
		if bit > 0 {
			c = d.son[c+1]
		} else {
			c = d.son[c]
		}
	}
	c -= lzT
	d.update(c)
	return c
}

func (d *decoder) decodePosition(in bitSource) int {
	i := in.ReadBits(8)
	if i < 0 {
		i = 0
	}
	shift := 5
	lowBits := 3
	if d.oldVer {
		shift = 6
		lowBits = 2
	}
	c := int(dCode[i]) << uint(shift)
	j := int(dLen[i]) - lowBits

	for ; j > 0; j-- {
		bit := in.ReadBits(1)
		i = (i << 1)
		if bit > 0 {
			i |= 1
		}
	}
	mask := 0x1f
	if d.oldVer {
		mask = 0x3f
	}
	return c | (i & mask)
}

// Decode parses a Cr-Lzh file's preamble, version-info bytes, and
// compressed body, returning the outcome.
func Decode(n *content.Node) content.Result {
	parsed, ok := header.Parse(n, false)
	if !ok {
		return content.Result{Status: content.BadHeader}
	}
	n.Name = parsed.Name
	n.Comment = parsed.Comment
	if !parsed.Timestamp.IsZero() {
		n.Timestamp = parsed.Timestamp
	}

	_ = n.In.ReadU8() // refLevel: positional only
	sigLevel := n.In.ReadU8()
	errDetect := n.In.ReadU8()
	spare := n.In.ReadU8()
	if spare < 0 {
		return content.Result{Status: content.BadHeader}
	}
	if sigLevel < 0x10 || sigLevel > 0x2f {
		return content.Result{Status: content.BadHeader}
	}
	oldVer := sigLevel < 0x20
	if oldVer {
		n.Kind = content.KindCrLzhV1
	} else {
		n.Kind = content.KindCrLzhV2
	}
	n.Out.Reserve(n.In.Len())

	d := newDecoder(oldVer)
	in := &n.In

	for {
		c := d.decodeChar(in)
		if c == eofCode || in.AtEOF() {
			break
		}
		if c < eofCode {
			n.Out.WriteByte(byte(c))
			d.textBuf[d.r] = byte(c)
			d.r = (d.r + 1) % lzN
		} else {
			pos := d.decodePosition(in)
			start := ((d.r - pos - 1) % lzN + lzN) % lzN
			length := c - eofCode + threshold
			for k := 0; k < length; k++ {
				b := d.textBuf[(start+k)%lzN]
				n.Out.WriteByte(b)
				d.textBuf[d.r] = b
				d.r = (d.r + 1) % lzN
			}
		}
	}

	fileCrc := n.In.ReadU16()
	if fileCrc < 0 {
		// The trailer CRC fell off the end of the stream; skip the check
		// rather than flag it, since there is no trailer left to compare
		// against.
		return content.Result{Status: content.Good}
	}
	switch errDetect {
	case 1:
		if crc.CCITT16(n.Out.Buf) != uint16(fileCrc) {
			return content.Result{Status: content.BadCrc}
		}
	case 0:
		if crc.Sum16(n.Out.Buf) != uint16(fileCrc) {
			return content.Result{Status: content.BadCrc}
		}
	}
	return content.Result{Status: content.Good}
}
