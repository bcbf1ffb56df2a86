package macho

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/lakshaymaurya-felt/monolingual/internal/macho/machotest"
)

func openBytes(t *testing.T, data []byte) *FatFile {
	t.Helper()
	f, err := Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return f
}

func TestOpen_ParsesSlices(t *testing.T) {
	for _, is64 := range []bool{false, true} {
		data := machotest.Fat(is64, machotest.I386, machotest.X8664, machotest.Arm64)
		f := openBytes(t, data)

		if f.Is64 != is64 {
			t.Fatalf("Is64 = %v, want %v", f.Is64, is64)
		}
		got := f.Architectures()
		want := []string{"i386", "x86_64", "arm64"}
		if len(got) != len(want) {
			t.Fatalf("architectures = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("architectures = %v, want %v", got, want)
			}
		}
		if f.Slices[0].Offset != 4096 {
			t.Fatalf("first offset = %d, want 4096", f.Slices[0].Offset)
		}
	}
}

func TestIsFat_RejectsJavaClass(t *testing.T) {
	// CAFEBABE followed by minor 0 / major 52 (Java 8).
	class := []byte{0xca, 0xfe, 0xba, 0xbe, 0x00, 0x00, 0x00, 0x34}
	if IsFat(class) {
		t.Fatal("java class file sniffed as fat")
	}
	if _, err := Open(bytes.NewReader(class), int64(len(class))); !errors.Is(err, ErrNotFat) {
		t.Fatalf("Open(class) err = %v, want ErrNotFat", err)
	}
}

func TestIsMachO(t *testing.T) {
	if !IsMachO(machotest.X8664.Image()) || !IsMachO(machotest.I386.Image()) {
		t.Fatal("thin images not recognised")
	}
	if IsMachO([]byte("#!/bin/sh\n")) {
		t.Fatal("script recognised as Mach-O")
	}
}

func TestOpen_RejectsCorruptTables(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]byte)
	}{
		{"slice past end", func(b []byte) {
			binary.BigEndian.PutUint32(b[fatHeaderSize+12:], 1<<20)
		}},
		{"offset inside header", func(b []byte) {
			binary.BigEndian.PutUint32(b[fatHeaderSize+8:], 4)
		}},
		{"huge alignment", func(b []byte) {
			binary.BigEndian.PutUint32(b[fatHeaderSize+16:], 31)
		}},
		{"overlap", func(b []byte) {
			second := fatHeaderSize + fatArchSize
			binary.BigEndian.PutUint32(b[second+8:], binary.BigEndian.Uint32(b[fatHeaderSize+8:]))
		}},
		{"cpu mismatch", func(b []byte) {
			binary.BigEndian.PutUint32(b[fatHeaderSize:], uint32(macho.CpuPpc))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := machotest.Fat(false, machotest.I386, machotest.X8664)
			tt.mutate(data)
			if _, err := Open(bytes.NewReader(data), int64(len(data))); !errors.Is(err, ErrUnsupported) {
				t.Fatalf("err = %v, want ErrUnsupported", err)
			}
		})
	}
}

func TestOpen_RejectsDuplicateArchitecture(t *testing.T) {
	data := machotest.Fat(false, machotest.X8664, machotest.X8664)
	if _, err := Open(bytes.NewReader(data), int64(len(data))); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestOpen_AcceptsArchiveSlice(t *testing.T) {
	data := machotest.Fat(false, machotest.I386, machotest.X8664)
	f := openBytes(t, data)
	copy(data[f.Slices[0].Offset:], archiveMagic)
	if _, err := Open(bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("static archive slice rejected: %v", err)
	}
}

func TestPlan_AlignsRetainedSlices(t *testing.T) {
	f := openBytes(t, machotest.Fat(false, machotest.I386, machotest.X8664, machotest.Arm64))
	p, err := f.Plan(map[string]bool{"i386": true})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if p.Thin {
		t.Fatal("two retained slices planned as thin")
	}
	if p.Keep[0].Arch != "x86_64" || p.Keep[1].Arch != "arm64" {
		t.Fatalf("order changed: %+v", p.Keep)
	}
	if p.Keep[0].Offset != 4096 {
		t.Fatalf("x86_64 offset = %d, want 4096", p.Keep[0].Offset)
	}
	if p.Keep[1].Offset != 16384 {
		t.Fatalf("arm64 offset = %d, want 16384", p.Keep[1].Offset)
	}
	if p.OutputSize != 16384+machotest.SliceSize {
		t.Fatalf("output size = %d", p.OutputSize)
	}
}

func TestPlan_SingleSliceIsThin(t *testing.T) {
	f := openBytes(t, machotest.Fat(true, machotest.I386, machotest.X8664))
	p, err := f.Plan(map[string]bool{"i386": true})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !p.Thin || p.OutputSize != machotest.SliceSize {
		t.Fatalf("plan = %+v, want thin of %d bytes", p, machotest.SliceSize)
	}

	var out bytes.Buffer
	if _, err := p.WriteTo(&out, f); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !bytes.Equal(out.Bytes(), machotest.X8664.Image()) {
		t.Fatal("thin output differs from the retained slice")
	}
}

func TestPlan_Refusals(t *testing.T) {
	f := openBytes(t, machotest.Fat(false, machotest.I386, machotest.X8664))
	if _, err := f.Plan(map[string]bool{"i386": true, "x86_64": true}); !errors.Is(err, ErrLastArchitecture) {
		t.Fatalf("removing all: err = %v, want ErrLastArchitecture", err)
	}
	if _, err := f.Plan(map[string]bool{"ppc": true}); !errors.Is(err, ErrNothingToRemove) {
		t.Fatalf("removing absent: err = %v, want ErrNothingToRemove", err)
	}
}

func TestPlan_WriteToPreservesSliceBytes(t *testing.T) {
	for _, is64 := range []bool{false, true} {
		f := openBytes(t, machotest.Fat(is64, machotest.I386, machotest.X8664, machotest.Arm64))
		p, err := f.Plan(map[string]bool{"x86_64": true})
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		var out bytes.Buffer
		n, err := p.WriteTo(&out, f)
		if err != nil {
			t.Fatalf("WriteTo: %v", err)
		}
		if n != p.OutputSize || int64(out.Len()) != p.OutputSize {
			t.Fatalf("wrote %d/%d bytes, planned %d", n, out.Len(), p.OutputSize)
		}

		thinned := openBytes(t, out.Bytes())
		if thinned.Is64 != is64 {
			t.Fatalf("width changed: Is64 = %v", thinned.Is64)
		}
		for i, want := range []machotest.Slice{machotest.I386, machotest.Arm64} {
			s := thinned.Slices[i]
			got := out.Bytes()[s.Offset : s.Offset+s.Size]
			if !bytes.Equal(got, want.Image()) {
				t.Fatalf("slice %s bytes changed", s.Arch)
			}
			if s.Offset%(1<<s.Align) != 0 {
				t.Fatalf("slice %s at %d not aligned to 2^%d", s.Arch, s.Offset, s.Align)
			}
		}
	}
}

func TestArchName(t *testing.T) {
	tests := []struct {
		cpu  macho.Cpu
		sub  uint32
		want string
	}{
		{macho.CpuAmd64, 3, "x86_64"},
		{macho.CpuArm64, 2 | 0x80000000, "arm64e"},
		{macho.CpuPpc, 0, "ppc"},
		{macho.Cpu(99), 1, "cpu99-1"},
	}
	for _, tt := range tests {
		if got := ArchName(tt.cpu, tt.sub); got != tt.want {
			t.Fatalf("ArchName(%v, %d) = %q, want %q", tt.cpu, tt.sub, got, tt.want)
		}
	}
}
