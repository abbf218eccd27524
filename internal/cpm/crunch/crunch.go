// Package crunch decodes CP/M "Crunched" files: an adaptive LZW coder
// (versions 1 and 2, which differ in their table-hashing scheme and code
// space) followed by the shared RLE filter.
package crunch

import (
	"github.com/cpmarchive/mlbr/internal/cpm/content"
	"github.com/cpmarchive/mlbr/internal/cpm/crc"
	"github.com/cpmarchive/mlbr/internal/cpm/header"
	"github.com/cpmarchive/mlbr/internal/cpm/rle"
)

// Magic is the two-byte little-endian signature (0xFE76 on the wire, low
// byte first) identifying a Crunched file.
const Magic = 0xFE76

const (
	tableSize  = 4096 // main LZW table, 12-bit codes
	xlatblSize = 5003 // physical translation (hash) table

	noPred     = 0x6fff // no predecessor in table
	empty      = 0x8000 // empty table entry
	referenced = 0x2000 // V2: entry has been referenced
	imPred     = 0x7fff // impossible predecessor

	eofCode = 0x100 // V2 end-of-file code
	rstCode = 0x101 // V2 adaptive-reset code
	nulCode = 0x102 // V2 filler code
	sprCode = 0x103 // V2 spare code

	maxStr = 4096
)

type entry struct {
	predecessor uint32
	suffix      uint32
}

// decoder holds all state for one Crunch decode; every call gets its
// own, so concurrent decodes never collide.
type decoder struct {
	table  [tableSize]entry
	xlatbl [xlatblSize]uint16

	codeLen uint8
	fulFlag uint8
	nextEnt uint16
	entFlag bool
	finChar int
	lastPr  uint16

	isV2    bool
	endCode int
	corrupt bool
}

func newDecoder(isV2 bool) *decoder {
	d := &decoder{isV2: isV2}
	d.init()
	return d
}

func (d *decoder) init() {
	if d.isV2 {
		d.codeLen = 9
	} else {
		d.codeLen = 12
	}
	d.fulFlag = 0
	if d.isV2 {
		d.nextEnt = 0
	} else {
		d.nextEnt = 1
	}
	d.entFlag = true
	if d.isV2 {
		d.endCode = eofCode
	} else {
		d.endCode = 0
	}

	for i := range d.xlatbl {
		d.xlatbl[i] = empty
	}
	for i := range d.table {
		d.table[i].suffix = empty
		d.table[i].predecessor = empty
	}
	if !d.isV2 {
		d.table[0].predecessor = imPred
		d.table[0].suffix = imPred
	}

	pred := uint32(noPred)
	if !d.isV2 {
		pred = imPred
	}
	for i := 0; i < 0x100; i++ {
		d.enter(pred, byte(i))
	}
	if d.isV2 {
		for i := 0; i < 4; i++ {
			d.enter(imPred, 0)
		}
	}
}

// hashV2 hashes a predecessor/suffix pair into the table directly.
func hashV2(pred uint32, suff uint32) uint16 {
	if suff == imPred {
		suff = 0
	}
	return uint16((((pred>>4)&0xff)^suff)|((pred&0xf)<<8)) + 1
}

// hashV1 reproduces CRUNCH 1.x's mid-square hash, chaining through
// xlatbl when the initial slot is already used.
func (d *decoder) hashV1(pred uint32, chr byte) uint16 {
	var hashval uint16
	if pred == imPred && chr == 0 {
		hashval = 0x800
	} else {
		a := uint32((pred+uint32(chr))|0x800) & 0x1fff
		b := a >> 1
		hashval = uint16((b * (b + (a & 1))) >> 4 & 0xfff)
	}
	for d.table[hashval].suffix != empty && d.xlatbl[hashval] != empty {
		hashval = d.xlatbl[hashval]
	}
	return hashval
}

func (d *decoder) getInsertPtV1(pred uint32, chr byte) uint16 {
	hashval := d.hashV1(pred, chr)
	if d.table[hashval].suffix != empty {
		initialHash := hashval
		hashval = (hashval + 101) % tableSize
		for d.table[hashval].suffix != empty {
			hashval = (hashval + 1) % tableSize
		}
		d.xlatbl[initialHash] = hashval
	}
	return hashval
}

func (d *decoder) getInsertPtV2(pred uint32, suff byte) uint16 {
	hashval := hashV2(pred, uint32(suff))
	rehash := hashval
	for d.xlatbl[rehash] != empty {
		rehash = (rehash + hashval) % xlatblSize
	}
	d.xlatbl[rehash] = d.nextEnt
	return d.nextEnt
}

// enter adds the next code to the LZW table and grows the code length
// (or bumps fulFlag) once the current width is exhausted.
func (d *decoder) enter(pred uint32, suff byte) {
	var insertPt uint16
	if d.isV2 {
		insertPt = d.getInsertPtV2(pred, suff)
	} else {
		insertPt = d.getInsertPtV1(pred, suff)
	}

	d.table[insertPt].suffix = uint32(suff)
	if d.isV2 || pred < maxStr {
		d.table[insertPt].predecessor = pred
	}

	d.nextEnt++
	if uint32(d.nextEnt) >= ^(^uint32(0)<<d.codeLen) {
		if d.codeLen < 12 {
			d.codeLen++
		} else {
			d.fulFlag++
		}
	}
}

type bitSource interface {
	ReadBits(n int) int
}

// getcode reads the next codeLen-bit code, skipping V2 filler/spare
// codes, and maps the end-of-stream code to -1.
func (d *decoder) getcode(in bitSource) int {
	for {
		code := in.ReadBits(int(d.codeLen))
		if code < 0 {
			return -1
		}
		if d.isV2 && (code == nulCode || code == sprCode) {
			continue
		}
		if code == d.endCode {
			return -1
		}
		return code
	}
}

// decode emits the byte string for code, inserting it into the table
// first if it isn't resolvable yet (the classic LZW KwKwK exception).
// Returns the updated entFlag (whether the main loop should skip its own
// table insertion because decode already performed one).
func (d *decoder) decode(code uint16, filter *rle.Filter, out *content.OutView) bool {
	if d.table[code].suffix == empty {
		d.entFlag = true
		d.enter(uint32(d.lastPr), byte(d.finChar))
	}
	if d.isV2 {
		d.table[code].predecessor |= referenced
	}

	var stack [maxStr]byte
	sp := 0
	for {
		if d.isV2 {
			if code <= 255 {
				break
			}
		} else if d.table[code].predecessor == empty {
			break
		}
		stack[sp] = byte(d.table[code].suffix)
		sp++
		code = uint16(d.table[code].predecessor % tableSize)
		if sp >= maxStr {
			d.corrupt = true
			return d.entFlag
		}
	}

	d.finChar = int(d.table[code].suffix)
	filter.Feed(byte(d.finChar), out)
	for sp > 0 {
		sp--
		filter.Feed(stack[sp], out)
	}
	return d.entFlag
}

// entfil attempts to reassign an existing, never-referenced V2 table
// entry to a new predecessor/suffix pair once the table is full.
func (d *decoder) entfil(pred uint32, suff byte) {
	hashval := hashV2(pred, uint32(suff))
	for curhash := hashval; d.xlatbl[curhash] != empty; curhash = (curhash + hashval) % xlatblSize {
		idx := d.xlatbl[curhash]
		ep := &d.table[idx]
		if ep.predecessor&referenced == 0 {
			ep.predecessor = pred
			ep.suffix = uint32(suff)
			break
		}
	}
}

func (d *decoder) run(in bitSource, filter *rle.Filter, out *content.OutView) bool {
	filter.Reset()
	d.corrupt = false

	d.lastPr = noPred
	for {
		pred := d.getcode(in)
		if d.corrupt || pred < 0 {
			break
		}
		switch {
		case d.isV2 && pred == rstCode:
			d.init()
			d.lastPr = noPred
			continue
		case d.fulFlag != 2:
			if !d.decode(uint16(pred), filter, out) {
				d.enter(uint32(d.lastPr), byte(d.finChar))
			} else {
				d.entFlag = false
			}
		default:
			d.decode(uint16(pred), filter, out)
			if d.isV2 {
				d.entfil(uint32(d.lastPr), byte(d.finChar))
			}
		}
		d.lastPr = uint16(pred)
	}
	return !d.corrupt
}

// Decode parses a Crunched file's preamble, version-info bytes, and
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

	_ = n.In.ReadU8() // refLevel: read for stream position, not otherwise used
	sigLevel := n.In.ReadU8()
	errDetect := n.In.ReadU8()
	spare := n.In.ReadU8()
	if spare < 0 {
		return content.Result{Status: content.BadHeader}
	}
	if sigLevel < 0x10 || sigLevel > 0x2f {
		return content.Result{Status: content.BadHeader}
	}
	isV2 := sigLevel >= 0x20
	if isV2 {
		n.Kind = content.KindCrunchV2
	} else {
		n.Kind = content.KindCrunchV1
	}
	n.Out.Reserve(n.In.Len())

	d := newDecoder(isV2)
	var filter rle.Filter
	if !d.run(&n.In, &filter, &n.Out) {
		return content.Result{Status: content.Corrupt}
	}

	fileCrc := n.In.ReadU16()
	if fileCrc < 0 {
		return content.Result{Status: content.Corrupt}
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
