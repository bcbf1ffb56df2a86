package macho

import (
	"debug/macho"
	"fmt"
	"strings"
)

const (
	cpuArch64   = 0x01000000
	cpuArch6432 = 0x02000000

	// cpuSubtypeMask strips capability bits (e.g. pointer authentication ABI
	// versions) from the subtype.
	cpuSubtypeMask = 0xff000000

	cpuArm6432 macho.Cpu = macho.CpuArm | cpuArch6432
)

type cpuPair struct {
	cpu macho.Cpu
	sub uint32
}

// archNames follows the names accepted by lipo(1).
var archNames = map[cpuPair]string{
	{macho.Cpu386, 3}:     "i386",
	{macho.CpuAmd64, 3}:   "x86_64",
	{macho.CpuAmd64, 8}:   "x86_64h",
	{macho.CpuArm, 0}:     "arm",
	{macho.CpuArm, 6}:     "armv6",
	{macho.CpuArm, 9}:     "armv7",
	{macho.CpuArm, 11}:    "armv7s",
	{macho.CpuArm, 12}:    "armv7k",
	{macho.CpuArm64, 0}:   "arm64",
	{macho.CpuArm64, 1}:   "arm64v8",
	{macho.CpuArm64, 2}:   "arm64e",
	{cpuArm6432, 1}:       "arm64_32",
	{macho.CpuPpc, 0}:     "ppc",
	{macho.CpuPpc, 9}:     "ppc750",
	{macho.CpuPpc, 10}:    "ppc7400",
	{macho.CpuPpc, 11}:    "ppc7450",
	{macho.CpuPpc, 100}:   "ppc970",
	{macho.CpuPpc64, 0}:   "ppc64",
	{macho.CpuPpc64, 100}: "ppc970-64",
}

// ArchName returns the lipo name of a CPU type/subtype pair. Unknown pairs
// get a stable synthetic name so they can still be listed and matched.
func ArchName(cpu macho.Cpu, subtype uint32) string {
	if name, ok := archNames[cpuPair{cpu, subtype &^ cpuSubtypeMask}]; ok {
		return name
	}
	return fmt.Sprintf("cpu%d-%d", uint32(cpu), subtype&^cpuSubtypeMask)
}

// KnownArchitectures lists every name ArchName can produce for a known pair.
func KnownArchitectures() []string {
	out := make([]string, 0, len(archNames))
	for _, name := range archNames {
		out = append(out, name)
	}
	return out
}

// NormalizeArch lower-cases and trims an architecture name for matching.
func NormalizeArch(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
