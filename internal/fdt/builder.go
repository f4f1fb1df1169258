package fdt

import (
	"bytes"
	"encoding/binary"
)

// Builder constructs a device tree blob imperatively. It is used to
// synthesize trees for boards without a boot-loader-supplied blob and
// to build test fixtures.
type Builder struct {
	structure bytes.Buffer
	strings   bytes.Buffer
	stringOff map[string]uint32
	bootCPU   uint32
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		stringOff: make(map[string]uint32),
	}
}

// SetBootCPU records the booting CPU id for the header.
func (b *Builder) SetBootCPU(id uint32) {
	b.bootCPU = id
}

// BeginNode starts a new node with the given name.
func (b *Builder) BeginNode(name string) {
	b.putU32(tokenBeginNode)
	b.structure.WriteString(name)
	b.structure.WriteByte(0)
	b.pad()
}

// EndNode ends the current node.
func (b *Builder) EndNode() {
	b.putU32(tokenEndNode)
}

// AddPropertyEmpty adds a marker property with no payload.
func (b *Builder) AddPropertyEmpty(name string) {
	b.property(name, nil)
}

// AddPropertyString adds a NUL-terminated string property.
func (b *Builder) AddPropertyString(name, value string) {
	b.property(name, append([]byte(value), 0))
}

// AddPropertyStringList adds a property holding a NUL-separated string
// list, as used by compatible.
func (b *Builder) AddPropertyStringList(name string, values []string) {
	var buf bytes.Buffer
	for _, v := range values {
		buf.WriteString(v)
		buf.WriteByte(0)
	}
	b.property(name, buf.Bytes())
}

// AddPropertyU32 adds a big-endian 32-bit property.
func (b *Builder) AddPropertyU32(name string, value uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], value)
	b.property(name, tmp[:])
}

// AddPropertyU32Array adds an array of big-endian 32-bit values.
func (b *Builder) AddPropertyU32Array(name string, values []uint32) {
	data := make([]byte, 0, len(values)*4)
	for _, v := range values {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], v)
		data = append(data, tmp[:]...)
	}
	b.property(name, data)
}

// AddPropertyU64 adds a big-endian 64-bit property.
func (b *Builder) AddPropertyU64(name string, value uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], value)
	b.property(name, tmp[:])
}

// AddPropertyU64Pair adds an (address, size) pair, as used by reg.
func (b *Builder) AddPropertyU64Pair(name string, addr, size uint64) {
	var tmp [16]byte
	binary.BigEndian.PutUint64(tmp[:8], addr)
	binary.BigEndian.PutUint64(tmp[8:], size)
	b.property(name, tmp[:])
}

// AddPropertyBytes adds a raw bytes property.
func (b *Builder) AddPropertyBytes(name string, data []byte) {
	b.property(name, data)
}

// Build finalizes the blob: header, empty reservation block, structure
// block, strings block.
func (b *Builder) Build() []byte {
	b.putU32(tokenEnd)
	b.pad()

	structBytes := b.structure.Bytes()
	stringsBytes := b.strings.Bytes()

	offRsvmap := uint32(headerSize)
	rsvmapSize := uint32(16) // single zero terminator entry
	offStruct := offRsvmap + rsvmapSize
	offStrings := offStruct + uint32(len(structBytes))
	totalSize := offStrings + uint32(len(stringsBytes))

	blob := make([]byte, totalSize)
	header := blob[:headerSize]
	binary.BigEndian.PutUint32(header[0:4], Magic)
	binary.BigEndian.PutUint32(header[4:8], totalSize)
	binary.BigEndian.PutUint32(header[8:12], offStruct)
	binary.BigEndian.PutUint32(header[12:16], offStrings)
	binary.BigEndian.PutUint32(header[16:20], offRsvmap)
	binary.BigEndian.PutUint32(header[20:24], version)
	binary.BigEndian.PutUint32(header[24:28], lastCompVer)
	binary.BigEndian.PutUint32(header[28:32], b.bootCPU)
	binary.BigEndian.PutUint32(header[32:36], uint32(len(stringsBytes)))
	binary.BigEndian.PutUint32(header[36:40], uint32(len(structBytes)))

	copy(blob[offStruct:], structBytes)
	copy(blob[offStrings:], stringsBytes)

	return blob
}

func (b *Builder) property(name string, value []byte) {
	b.putU32(tokenProp)
	b.putU32(uint32(len(value)))
	b.putU32(b.stringOffset(name))
	b.structure.Write(value)
	b.pad()
}

func (b *Builder) stringOffset(name string) uint32 {
	if off, ok := b.stringOff[name]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(name)
	b.strings.WriteByte(0)
	b.stringOff[name] = off
	return off
}

func (b *Builder) putU32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.structure.Write(tmp[:])
}

func (b *Builder) pad() {
	for b.structure.Len()%4 != 0 {
		b.structure.WriteByte(0)
	}
}
