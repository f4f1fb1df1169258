// Package fdt reads and builds Flattened Device Tree blobs.
//
// The reader operates directly on the boot-loader-supplied blob: all
// navigation state is offsets into the original buffer and property
// values are returned as subslice views, so the read path performs no
// copying and works before any allocator is initialized. Node handles
// are only valid while the blob remains mapped.
package fdt

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	// Magic is the big-endian value in the first header word of every
	// valid blob.
	Magic = 0xd00dfeed

	headerSize  = 0x28
	version     = 17
	lastCompVer = 16

	tokenBeginNode = 0x1
	tokenEndNode   = 0x2
	tokenProp      = 0x3
	tokenNop       = 0x4
	tokenEnd       = 0x9
)

// MaxMemoryRegions bounds the memory regions captured from the blob's
// memory node.
const MaxMemoryRegions = 8

var (
	// ErrBadHeader reports a blob whose header failed validation.
	// Callers treat this as "no device information available" and fall
	// back to platform statics.
	ErrBadHeader = errors.New("fdt: bad header")

	// ErrTruncated reports that the memory node declared more regions
	// than the destination could hold. The destination holds a valid
	// partial view; the caller decides whether that is acceptable.
	ErrTruncated = errors.New("fdt: memory regions truncated")

	// ErrRegionOverlap reports a memory node declaring regions that
	// overlap each other.
	ErrRegionOverlap = errors.New("fdt: overlapping memory regions")
)

// MemoryRegion is a physical RAM range captured from the memory node.
type MemoryRegion struct {
	Base uint64
	Size uint64
}

// Reader provides offset-addressable access to a device tree blob.
type Reader struct {
	blob []byte

	offStruct   uint32
	sizeStruct  uint32
	offStrings  uint32
	sizeStrings uint32
	offRsvmap   uint32

	totalSize uint32
	bootCPU   uint32
}

// NewReader validates the blob header and returns a reader over it.
// The reader never writes to the blob.
func NewReader(blob []byte) (*Reader, error) {
	if len(blob) < headerSize {
		return nil, ErrBadHeader
	}
	if binary.BigEndian.Uint32(blob[0:4]) != Magic {
		return nil, ErrBadHeader
	}

	r := &Reader{
		blob:        blob,
		totalSize:   binary.BigEndian.Uint32(blob[4:8]),
		offStruct:   binary.BigEndian.Uint32(blob[8:12]),
		offStrings:  binary.BigEndian.Uint32(blob[12:16]),
		offRsvmap:   binary.BigEndian.Uint32(blob[16:20]),
		bootCPU:     binary.BigEndian.Uint32(blob[28:32]),
		sizeStrings: binary.BigEndian.Uint32(blob[32:36]),
		sizeStruct:  binary.BigEndian.Uint32(blob[36:40]),
	}

	if binary.BigEndian.Uint32(blob[20:24]) < lastCompVer {
		return nil, ErrBadHeader
	}
	if uint64(r.totalSize) > uint64(len(blob)) {
		return nil, ErrBadHeader
	}
	if uint64(r.offStruct)+uint64(r.sizeStruct) > uint64(r.totalSize) {
		return nil, ErrBadHeader
	}
	if uint64(r.offStrings)+uint64(r.sizeStrings) > uint64(r.totalSize) {
		return nil, ErrBadHeader
	}

	return r, nil
}

// TotalSize returns the blob size recorded in the header.
func (r *Reader) TotalSize() uint32 { return r.totalSize }

// BootCPU returns the booting CPU id recorded in the header.
func (r *Reader) BootCPU() uint32 { return r.bootCPU }

// NodeRef is a handle to a node in the structure block. The zero value
// is the "not found" sentinel; navigation on it yields further
// sentinels, which allows speculative probing without error checks.
type NodeRef struct {
	r   *Reader
	off uint32
	ok  bool
}

// Valid reports whether the handle refers to a node.
func (n NodeRef) Valid() bool { return n.ok }

// Root returns the root node of the tree.
func (r *Reader) Root() NodeRef {
	off := r.skipNops(0)
	if r.structU32(off) != tokenBeginNode {
		return NodeRef{}
	}
	return NodeRef{r: r, off: off, ok: true}
}

// Name returns a view of the node's name, without any unit address
// separator handling. The root node has an empty name.
func (n NodeRef) Name() []byte {
	if !n.ok {
		return nil
	}
	return n.r.structString(n.off + 4)
}

// FirstChild returns the node's first child, or a sentinel.
func (n NodeRef) FirstChild() NodeRef {
	if !n.ok {
		return NodeRef{}
	}
	off := n.r.skipNodeHeader(n.off)
	off = n.r.skipProps(off)
	if n.r.structU32(off) != tokenBeginNode {
		return NodeRef{}
	}
	return NodeRef{r: n.r, off: off, ok: true}
}

// NextSibling returns the next node at the same depth, or a sentinel.
func (n NodeRef) NextSibling() NodeRef {
	if !n.ok {
		return NodeRef{}
	}
	off, ok := n.r.skipNode(n.off)
	if !ok {
		return NodeRef{}
	}
	off = n.r.skipNops(off)
	if n.r.structU32(off) != tokenBeginNode {
		return NodeRef{}
	}
	return NodeRef{r: n.r, off: off, ok: true}
}

// FindChild returns the first child whose name matches, or a sentinel.
// A child named "uart@10000000" matches both the full name and the
// bare "uart".
func (n NodeRef) FindChild(name string) NodeRef {
	for c := n.FirstChild(); c.Valid(); c = c.NextSibling() {
		if nameMatches(c.Name(), name) {
			return c
		}
	}
	return NodeRef{}
}

// Property returns a view of the named property's payload. The second
// result distinguishes an absent property from an empty one.
func (n NodeRef) Property(name string) ([]byte, bool) {
	if !n.ok {
		return nil, false
	}
	off := n.r.skipNodeHeader(n.off)
	for {
		off = n.r.skipNops(off)
		if n.r.structU32(off) != tokenProp {
			return nil, false
		}
		plen := n.r.structU32(off + 4)
		nameOff := n.r.structU32(off + 8)
		if bytes.Equal(n.r.stringsString(nameOff), []byte(name)) {
			return n.r.structBytes(off+12, plen), true
		}
		off = align4(off + 12 + plen)
	}
}

// PropString returns a string property's value without its NUL
// terminator.
func (n NodeRef) PropString(name string) (string, bool) {
	v, ok := n.Property(name)
	if !ok {
		return "", false
	}
	if i := bytes.IndexByte(v, 0); i >= 0 {
		v = v[:i]
	}
	return string(v), true
}

// PropU32 returns a 32-bit big-endian property value.
func (n NodeRef) PropU32(name string) (uint32, bool) {
	v, ok := n.Property(name)
	if !ok || len(v) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// PropU64 returns a 64-bit big-endian property value.
func (n NodeRef) PropU64(name string) (uint64, bool) {
	v, ok := n.Property(name)
	if !ok || len(v) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

// Compatible returns the raw compatible property: a sequence of
// NUL-terminated strings.
func (n NodeRef) Compatible() ([]byte, bool) {
	return n.Property("compatible")
}

// HasCompatible reports whether the node's compatible list contains the
// exact entry s.
func (n NodeRef) HasCompatible(s string) bool {
	v, ok := n.Compatible()
	if !ok {
		return false
	}
	for len(v) > 0 {
		i := bytes.IndexByte(v, 0)
		if i < 0 {
			i = len(v)
		}
		if string(v[:i]) == s {
			return true
		}
		if i == len(v) {
			break
		}
		v = v[i+1:]
	}
	return false
}

// Walk visits the node and all its descendants depth-first. The walk
// stops early when fn returns false.
func (n NodeRef) Walk(fn func(NodeRef, int) bool) {
	n.walk(0, fn)
}

func (n NodeRef) walk(depth int, fn func(NodeRef, int) bool) bool {
	if !n.ok {
		return true
	}
	if !fn(n, depth) {
		return false
	}
	for c := n.FirstChild(); c.Valid(); c = c.NextSibling() {
		if !c.walk(depth+1, fn) {
			return false
		}
	}
	return true
}

// MemoryRegions extracts the memory node's reg pairs into dst, which
// bounds the capture. It returns the number of regions stored and the
// running total of their sizes. When the blob declares more regions
// than dst can hold the error is ErrTruncated and dst holds a valid
// partial view.
func (r *Reader) MemoryRegions(dst []MemoryRegion) (int, uint64, error) {
	mem := r.Root().FindChild("memory")
	if !mem.Valid() {
		return 0, 0, nil
	}
	if dt, ok := mem.PropString("device_type"); ok && dt != "memory" {
		return 0, 0, nil
	}

	reg, ok := mem.Property("reg")
	if !ok {
		return 0, 0, nil
	}

	var (
		n     int
		total uint64
	)
	for off := 0; off+16 <= len(reg); off += 16 {
		region := MemoryRegion{
			Base: binary.BigEndian.Uint64(reg[off:]),
			Size: binary.BigEndian.Uint64(reg[off+8:]),
		}
		if region.Size == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			if rangesOverlap(dst[i].Base, dst[i].Size, region.Base, region.Size) {
				return n, total, ErrRegionOverlap
			}
		}
		if n == len(dst) {
			return n, total, ErrTruncated
		}
		dst[n] = region
		n++
		total += region.Size
	}

	return n, total, nil
}

// ReservedRegions extracts the memory reservation block into dst. The
// block is a list of big-endian (address, size) pairs terminated by a
// zero entry.
func (r *Reader) ReservedRegions(dst []MemoryRegion) (int, error) {
	n := 0
	for off := r.offRsvmap; uint64(off)+16 <= uint64(r.totalSize); off += 16 {
		base := binary.BigEndian.Uint64(r.blob[off:])
		size := binary.BigEndian.Uint64(r.blob[off+8:])
		if base == 0 && size == 0 {
			return n, nil
		}
		if n == len(dst) {
			return n, ErrTruncated
		}
		dst[n] = MemoryRegion{Base: base, Size: size}
		n++
	}
	return n, nil
}

// structU32 reads a big-endian word at the given structure-block
// offset, returning the end token on any out-of-bounds access so that
// walks over corrupt blobs terminate instead of failing.
func (r *Reader) structU32(off uint32) uint32 {
	pos := uint64(r.offStruct) + uint64(off)
	if off+4 > r.sizeStruct || pos+4 > uint64(len(r.blob)) {
		return tokenEnd
	}
	return binary.BigEndian.Uint32(r.blob[pos:])
}

func (r *Reader) structBytes(off, n uint32) []byte {
	pos := uint64(r.offStruct) + uint64(off)
	if off+n > r.sizeStruct || pos+uint64(n) > uint64(len(r.blob)) {
		return nil
	}
	return r.blob[pos : pos+uint64(n)]
}

// structString returns the NUL-terminated string at a structure-block
// offset as a view without the terminator.
func (r *Reader) structString(off uint32) []byte {
	pos := uint64(r.offStruct) + uint64(off)
	limit := uint64(r.offStruct) + uint64(r.sizeStruct)
	if pos >= limit || limit > uint64(len(r.blob)) {
		return nil
	}
	s := r.blob[pos:limit]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}

// stringsString returns the NUL-terminated string at a strings-block
// offset as a view without the terminator.
func (r *Reader) stringsString(off uint32) []byte {
	pos := uint64(r.offStrings) + uint64(off)
	limit := uint64(r.offStrings) + uint64(r.sizeStrings)
	if pos >= limit || limit > uint64(len(r.blob)) {
		return nil
	}
	s := r.blob[pos:limit]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}

// skipNodeHeader advances past a BEGIN_NODE token and its name.
func (r *Reader) skipNodeHeader(off uint32) uint32 {
	name := r.structString(off + 4)
	return align4(off + 4 + uint32(len(name)) + 1)
}

// skipProps advances past any run of properties and NOPs.
func (r *Reader) skipProps(off uint32) uint32 {
	for {
		switch r.structU32(off) {
		case tokenProp:
			plen := r.structU32(off + 4)
			off = align4(off + 12 + plen)
		case tokenNop:
			off += 4
		default:
			return off
		}
	}
}

// skipNode advances from a BEGIN_NODE token to just past its matching
// END_NODE.
func (r *Reader) skipNode(off uint32) (uint32, bool) {
	if r.structU32(off) != tokenBeginNode {
		return 0, false
	}
	off = r.skipNodeHeader(off)
	for {
		off = r.skipProps(off)
		switch r.structU32(off) {
		case tokenBeginNode:
			next, ok := r.skipNode(off)
			if !ok {
				return 0, false
			}
			off = next
		case tokenEndNode:
			return off + 4, true
		default:
			return 0, false
		}
	}
}

func (r *Reader) skipNops(off uint32) uint32 {
	for r.structU32(off) == tokenNop {
		off += 4
	}
	return off
}

// nameMatches compares a node name against a lookup name, treating the
// unit address suffix as optional.
func nameMatches(name []byte, lookup string) bool {
	if i := bytes.IndexByte(name, '@'); i >= 0 && len(lookup) == i {
		return string(name[:i]) == lookup
	}
	return string(name) == lookup
}

func rangesOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	return baseA < baseB+sizeB && baseB < baseA+sizeA
}

func align4(v uint32) uint32 {
	return (v + 3) &^ 3
}
