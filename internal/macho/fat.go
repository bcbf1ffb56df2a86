// Package macho reads and rewrites multi-architecture ("fat" / universal)
// Mach-O containers.
//
// The container is a big-endian header followed by one fat_arch record per
// slice. Each slice is a complete Mach-O image (or static archive) placed at
// an offset aligned to 1<<align bytes:
//
//	fat_header    { magic, nfat_arch }
//	fat_arch      { cputype, cpusubtype, offset u32, size u32, align }
//	fat_arch_64   { cputype, cpusubtype, offset u64, size u64, align, reserved }
package macho

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MagicFat is FAT_MAGIC.
	MagicFat uint32 = 0xcafebabe
	// MagicFat64 is FAT_MAGIC_64.
	MagicFat64 uint32 = 0xcafebabf

	fatHeaderSize  = 8
	fatArchSize    = 20
	fatArch64Size  = 32
	maxSectAlign   = 15
	archiveMagic   = "!<arch>\n"
	machoMagicSize = 4
)

// maxFatArchs bounds nfat_arch. Java class files share FAT_MAGIC, and their
// major version (≥ 45) lands where nfat_arch would be.
const maxFatArchs = 20

var (
	// ErrNotFat is returned for files without a fat header.
	ErrNotFat = errors.New("not a fat binary")
	// ErrUnsupported is returned for fat headers that cannot be processed safely.
	ErrUnsupported = errors.New("unsupported fat binary")
)

// Slice is one architecture inside a fat file.
type Slice struct {
	Arch   string
	Cpu    macho.Cpu
	SubCpu uint32
	Offset uint64
	Size   uint64
	Align  uint32
}

// FatFile is a parsed fat container.
type FatFile struct {
	Is64   bool
	Size   int64
	Slices []Slice

	r io.ReaderAt
}

// Architectures returns the slice names in file order.
func (f *FatFile) Architectures() []string {
	out := make([]string, len(f.Slices))
	for i, s := range f.Slices {
		out[i] = s.Arch
	}
	return out
}

// HeaderSize is the size of the fat header plus all arch records.
func (f *FatFile) HeaderSize() uint64 {
	return headerSize(f.Is64, len(f.Slices))
}

func headerSize(is64 bool, n int) uint64 {
	per := uint64(fatArchSize)
	if is64 {
		per = fatArch64Size
	}
	return fatHeaderSize + per*uint64(n)
}

// ─── Sniffing ────────────────────────────────────────────────────────────────

// IsFat reports whether the first bytes of a file look like a fat header,
// rejecting Java class files.
func IsFat(header []byte) bool {
	if len(header) < fatHeaderSize {
		return false
	}
	magic := binary.BigEndian.Uint32(header[0:4])
	if magic != MagicFat && magic != MagicFat64 {
		return false
	}
	n := binary.BigEndian.Uint32(header[4:8])
	return n > 0 && n <= maxFatArchs
}

// IsMachO reports whether the first bytes are a thin Mach-O header of
// either width and byte order.
func IsMachO(header []byte) bool {
	if len(header) < machoMagicSize {
		return false
	}
	le := binary.LittleEndian.Uint32(header[0:4])
	be := binary.BigEndian.Uint32(header[0:4])
	for _, m := range []uint32{macho.Magic32, macho.Magic64} {
		if le == m || be == m {
			return true
		}
	}
	return false
}

// ─── Parsing ─────────────────────────────────────────────────────────────────

// Open parses the fat container in r, which must be size bytes long.
// Every slice is bounds-checked and validated as a Mach-O image whose CPU
// matches its record, or as a static archive.
func Open(r io.ReaderAt, size int64) (*FatFile, error) {
	var hdr [fatHeaderSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotFat
		}
		return nil, err
	}
	if !IsFat(hdr[:]) {
		return nil, ErrNotFat
	}

	f := &FatFile{
		Is64: binary.BigEndian.Uint32(hdr[0:4]) == MagicFat64,
		Size: size,
		r:    r,
	}
	n := int(binary.BigEndian.Uint32(hdr[4:8]))
	hsize := headerSize(f.Is64, n)
	if hsize > uint64(size) {
		return nil, fmt.Errorf("%w: header of %d bytes exceeds file size %d", ErrUnsupported, hsize, size)
	}

	recSize := fatArchSize
	if f.Is64 {
		recSize = fatArch64Size
	}
	recs := make([]byte, n*recSize)
	if _, err := r.ReadAt(recs, fatHeaderSize); err != nil {
		return nil, fmt.Errorf("read fat arch table: %w", err)
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		rec := recs[i*recSize : (i+1)*recSize]
		s := Slice{
			Cpu:    macho.Cpu(binary.BigEndian.Uint32(rec[0:4])),
			SubCpu: binary.BigEndian.Uint32(rec[4:8]),
		}
		if f.Is64 {
			s.Offset = binary.BigEndian.Uint64(rec[8:16])
			s.Size = binary.BigEndian.Uint64(rec[16:24])
			s.Align = binary.BigEndian.Uint32(rec[24:28])
		} else {
			s.Offset = uint64(binary.BigEndian.Uint32(rec[8:12]))
			s.Size = uint64(binary.BigEndian.Uint32(rec[12:16]))
			s.Align = binary.BigEndian.Uint32(rec[16:20])
		}
		s.Arch = ArchName(s.Cpu, s.SubCpu)

		if s.Align > maxSectAlign {
			return nil, fmt.Errorf("%w: %s alignment 2^%d too large", ErrUnsupported, s.Arch, s.Align)
		}
		if s.Offset < hsize || s.Size == 0 || s.Offset+s.Size < s.Offset || s.Offset+s.Size > uint64(size) {
			return nil, fmt.Errorf("%w: %s slice [%d,+%d) outside file", ErrUnsupported, s.Arch, s.Offset, s.Size)
		}
		if seen[s.Arch] {
			return nil, fmt.Errorf("%w: duplicate architecture %s", ErrUnsupported, s.Arch)
		}
		seen[s.Arch] = true
		f.Slices = append(f.Slices, s)
	}

	if err := checkOverlap(f.Slices); err != nil {
		return nil, err
	}
	for _, s := range f.Slices {
		if err := f.validateSlice(s); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func checkOverlap(slices []Slice) error {
	for i := range slices {
		for j := i + 1; j < len(slices); j++ {
			a, b := slices[i], slices[j]
			if a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size {
				return fmt.Errorf("%w: slices %s and %s overlap", ErrUnsupported, a.Arch, b.Arch)
			}
		}
	}
	return nil
}

func (f *FatFile) validateSlice(s Slice) error {
	sr := f.SliceReader(s)

	head := make([]byte, len(archiveMagic))
	if _, err := sr.ReadAt(head, 0); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %s slice: %w", s.Arch, err)
	}
	if bytes.Equal(head, []byte(archiveMagic)) {
		return nil
	}

	mf, err := macho.NewFile(sr)
	if err != nil {
		return fmt.Errorf("%w: %s slice is not a Mach-O image: %v", ErrUnsupported, s.Arch, err)
	}
	defer mf.Close()
	if mf.Cpu != s.Cpu {
		return fmt.Errorf("%w: %s slice contains cpu %v", ErrUnsupported, s.Arch, mf.Cpu)
	}
	return nil
}

// SliceReader returns a reader over one slice's bytes.
func (f *FatFile) SliceReader(s Slice) *io.SectionReader {
	return io.NewSectionReader(f.r, int64(s.Offset), int64(s.Size))
}
