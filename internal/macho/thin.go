package macho

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"syscall"
)

// preservedMode is the part of a binary's mode a rewrite keeps.
const preservedMode = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

var (
	// ErrLastArchitecture is returned when a removal would leave a binary
	// with no architectures at all.
	ErrLastArchitecture = errors.New("refusing to remove the last architecture")
	// ErrNothingToRemove is returned when none of the requested
	// architectures are present.
	ErrNothingToRemove = errors.New("no requested architecture present")
)

// ─── Planning ────────────────────────────────────────────────────────────────

// Plan is the layout of a thinned file.
type Plan struct {
	// Keep holds the retained slices with their new offsets.
	Keep []Slice
	// Removed holds the dropped slices as found in the source.
	Removed []Slice
	// Thin is set when a single slice remains; the output is then that
	// slice alone, without a fat header.
	Thin bool
	// Is64 selects the fat_arch_64 record format.
	Is64 bool
	// OutputSize is the exact size of the rewritten file.
	OutputSize int64
}

// Saved is the number of bytes the rewrite reclaims.
func (p *Plan) Saved(original int64) int64 {
	return original - p.OutputSize
}

// Architectures returns the names of the kept and removed slices.
func (p *Plan) Architectures() (kept, removed []string) {
	for _, s := range p.Keep {
		kept = append(kept, s.Arch)
	}
	for _, s := range p.Removed {
		removed = append(removed, s.Arch)
	}
	return kept, removed
}

// Plan computes the layout after dropping every slice whose name is in
// remove. Slice order is preserved; each retained slice starts at the next
// multiple of 1<<align after the previous one.
func (f *FatFile) Plan(remove map[string]bool) (*Plan, error) {
	p := &Plan{Is64: f.Is64}
	for _, s := range f.Slices {
		if remove[s.Arch] {
			p.Removed = append(p.Removed, s)
		} else {
			p.Keep = append(p.Keep, s)
		}
	}
	if len(p.Removed) == 0 {
		return nil, ErrNothingToRemove
	}
	if len(p.Keep) == 0 {
		return nil, ErrLastArchitecture
	}

	if len(p.Keep) == 1 {
		p.Thin = true
		p.Keep[0].Offset = 0
		p.OutputSize = int64(p.Keep[0].Size)
		return p, nil
	}

	offset := headerSize(f.Is64, len(p.Keep))
	for i := range p.Keep {
		offset = alignUp(offset, uint64(1)<<p.Keep[i].Align)
		p.Keep[i].Offset = offset
		offset += p.Keep[i].Size
	}
	if !f.Is64 && offset > math.MaxUint32 {
		return nil, fmt.Errorf("%w: thinned layout exceeds 32-bit offsets", ErrUnsupported)
	}
	p.OutputSize = int64(offset)
	return p, nil
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// ─── Writing ─────────────────────────────────────────────────────────────────

// WriteTo writes the planned file, reading slice data from src.
func (p *Plan) WriteTo(w io.Writer, src *FatFile) (int64, error) {
	bw := bufio.NewWriterSize(w, 1<<16)
	cw := &countingWriter{w: bw}

	if p.Thin {
		if _, err := io.Copy(cw, src.SliceReader(sourceSlice(src, p.Keep[0]))); err != nil {
			return cw.n, err
		}
		return cw.n, bw.Flush()
	}

	if err := p.writeHeader(cw); err != nil {
		return cw.n, err
	}
	for _, s := range p.Keep {
		if err := pad(cw, int64(s.Offset)-cw.n); err != nil {
			return cw.n, err
		}
		if _, err := io.Copy(cw, src.SliceReader(sourceSlice(src, s))); err != nil {
			return cw.n, fmt.Errorf("copy %s slice: %w", s.Arch, err)
		}
	}
	if cw.n != p.OutputSize {
		return cw.n, fmt.Errorf("wrote %d bytes, planned %d", cw.n, p.OutputSize)
	}
	return cw.n, bw.Flush()
}

func (p *Plan) writeHeader(w io.Writer) error {
	magic := MagicFat
	if p.Is64 {
		magic = MagicFat64
	}
	buf := make([]byte, headerSize(p.Is64, len(p.Keep)))
	binary.BigEndian.PutUint32(buf[0:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(p.Keep)))

	off := fatHeaderSize
	for _, s := range p.Keep {
		binary.BigEndian.PutUint32(buf[off:], uint32(s.Cpu))
		binary.BigEndian.PutUint32(buf[off+4:], s.SubCpu)
		if p.Is64 {
			binary.BigEndian.PutUint64(buf[off+8:], s.Offset)
			binary.BigEndian.PutUint64(buf[off+16:], s.Size)
			binary.BigEndian.PutUint32(buf[off+24:], s.Align)
			off += fatArch64Size
		} else {
			binary.BigEndian.PutUint32(buf[off+8:], uint32(s.Offset))
			binary.BigEndian.PutUint32(buf[off+12:], uint32(s.Size))
			binary.BigEndian.PutUint32(buf[off+16:], s.Align)
			off += fatArchSize
		}
	}
	_, err := w.Write(buf)
	return err
}

// sourceSlice finds the original placement of a planned slice.
func sourceSlice(f *FatFile, planned Slice) Slice {
	for _, s := range f.Slices {
		if s.Arch == planned.Arch {
			return s
		}
	}
	return planned
}

func pad(w io.Writer, n int64) error {
	if n < 0 {
		return fmt.Errorf("negative padding %d", n)
	}
	var zeros [4096]byte
	for n > 0 {
		chunk := int64(len(zeros))
		if n < chunk {
			chunk = n
		}
		if _, err := w.Write(zeros[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ─── File-level thinning ─────────────────────────────────────────────────────

// Result describes one thinning operation.
type Result struct {
	Kept    []string
	Removed []string
	Saved   int64
}

// Thin removes the named architectures from the fat binary at path. The new
// file is written next to the original and renamed over it, so the original
// stays byte-for-byte intact on any failure. With dryRun the plan is
// computed and nothing is written.
func Thin(path string, remove map[string]bool, dryRun bool) (Result, error) {
	src, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return Result{}, err
	}
	if !info.Mode().IsRegular() {
		return Result{}, fmt.Errorf("%s: not a regular file", path)
	}

	fat, err := Open(src, info.Size())
	if err != nil {
		return Result{}, err
	}
	plan, err := fat.Plan(remove)
	if err != nil {
		return Result{}, err
	}

	res := Result{Saved: plan.Saved(info.Size())}
	res.Kept, res.Removed = plan.Architectures()
	if dryRun {
		return res, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".thin-*")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := plan.WriteTo(tmp, fat); err != nil {
		return Result{}, fmt.Errorf("write thinned file: %w", err)
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		// Keep the original owner; fails harmlessly when not privileged and
		// the owner is already the caller.
		_ = tmp.Chown(int(st.Uid), int(st.Gid))
	}
	// After Chown, which clears set-id bits.
	if err := tmp.Chmod(info.Mode() & preservedMode); err != nil {
		return Result{}, err
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, err
	}
	if err := tmp.Close(); err != nil {
		return Result{}, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return Result{}, fmt.Errorf("replace %s: %w", path, err)
	}
	committed = true
	_ = os.Chtimes(path, info.ModTime(), info.ModTime())
	return res, nil
}
