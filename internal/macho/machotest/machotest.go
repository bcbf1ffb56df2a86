// Package machotest builds small synthetic Mach-O images and universal
// binaries for tests.
package machotest

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
)

// SliceSize is the size of every synthetic image.
const SliceSize = 96

// Slice describes one synthetic architecture.
type Slice struct {
	Cpu   macho.Cpu
	Sub   uint32
	Align uint32
	Fill  byte
}

var (
	I386   = Slice{Cpu: macho.Cpu386, Sub: 3, Align: 12, Fill: 0x11}
	X8664  = Slice{Cpu: macho.CpuAmd64, Sub: 3, Align: 12, Fill: 0x22}
	Arm64  = Slice{Cpu: macho.CpuArm64, Sub: 0, Align: 14, Fill: 0x33}
	PPC    = Slice{Cpu: macho.CpuPpc, Sub: 0, Align: 12, Fill: 0x44}
	arch64 = macho.Cpu(0x01000000)
)

// Image returns a minimal little-endian Mach-O executable with no load
// commands, padded with the slice's fill byte.
func (s Slice) Image() []byte {
	buf := bytes.Repeat([]byte{s.Fill}, SliceSize)
	magic := macho.Magic32
	hdrLen := 28
	if s.Cpu&arch64 != 0 {
		magic = macho.Magic64
		hdrLen = 32
	}
	clear(buf[:hdrLen])
	binary.LittleEndian.PutUint32(buf[0:], magic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(s.Cpu))
	binary.LittleEndian.PutUint32(buf[8:], s.Sub)
	binary.LittleEndian.PutUint32(buf[12:], uint32(macho.TypeExec))
	return buf
}

// Offsets returns where Fat places each slice.
func Offsets(is64 bool, slices ...Slice) []uint64 {
	rec := uint64(20)
	if is64 {
		rec = 32
	}
	offset := 8 + rec*uint64(len(slices))
	out := make([]uint64, len(slices))
	for i, s := range slices {
		align := uint64(1) << s.Align
		offset = (offset + align - 1) &^ (align - 1)
		out[i] = offset
		offset += SliceSize
	}
	return out
}

// Fat lays the slices out the way lipo does.
func Fat(is64 bool, slices ...Slice) []byte {
	offsets := Offsets(is64, slices...)

	var out bytes.Buffer
	magic := uint32(0xcafebabe)
	if is64 {
		magic = 0xcafebabf
	}
	_ = binary.Write(&out, binary.BigEndian, magic)
	_ = binary.Write(&out, binary.BigEndian, uint32(len(slices)))
	for i, s := range slices {
		_ = binary.Write(&out, binary.BigEndian, uint32(s.Cpu))
		_ = binary.Write(&out, binary.BigEndian, s.Sub)
		if is64 {
			_ = binary.Write(&out, binary.BigEndian, offsets[i])
			_ = binary.Write(&out, binary.BigEndian, uint64(SliceSize))
			_ = binary.Write(&out, binary.BigEndian, s.Align)
			_ = binary.Write(&out, binary.BigEndian, uint32(0))
		} else {
			_ = binary.Write(&out, binary.BigEndian, uint32(offsets[i]))
			_ = binary.Write(&out, binary.BigEndian, uint32(SliceSize))
			_ = binary.Write(&out, binary.BigEndian, s.Align)
		}
	}
	for i, s := range slices {
		out.Write(make([]byte, int(offsets[i])-out.Len()))
		out.Write(s.Image())
	}
	return out.Bytes()
}
