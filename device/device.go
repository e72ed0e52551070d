// Package device reports the compute device used for training. Only the CPU
// is supported; the report lists the SIMD features gonum's kernels can use.
package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Info describes the host CPU.
type Info struct {
	Name          string // always "cpu"
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	L2CacheBytes  int
	Features      []string
}

var reportedFeatures = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE4, "SSE4.1"},
	{cpuid.SSE42, "SSE4.2"},
	{cpuid.AVX, "AVX"},
	{cpuid.AVX2, "AVX2"},
	{cpuid.FMA3, "FMA3"},
	{cpuid.AVX512F, "AVX512F"},
	{cpuid.ASIMD, "ASIMD"},
}

// Detect queries cpuid for the host CPU.
func Detect() Info {
	info := Info{
		Name:          "cpu",
		Brand:         strings.TrimSpace(cpuid.CPU.BrandName),
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		L2CacheBytes:  cpuid.CPU.Cache.L2,
	}
	for _, f := range reportedFeatures {
		if cpuid.CPU.Supports(f.id) {
			info.Features = append(info.Features, f.name)
		}
	}
	if info.Brand == "" {
		info.Brand = runtime.GOARCH
	}
	return info
}

// Banner is the one-line device announcement printed at startup.
func (i Info) Banner() string {
	return fmt.Sprintf("Using %s device", i.Name)
}

// String renders the full report.
func (i Info) String() string {
	features := "none"
	if len(i.Features) > 0 {
		features = strings.Join(i.Features, " ")
	}
	return fmt.Sprintf("%s (%s), %d physical / %d logical cores, SIMD: %s",
		i.Brand, i.Vendor, i.PhysicalCores, i.LogicalCores, features)
}

// DefaultWorkers picks the image decoding pool size: one worker per logical
// core, falling back to the Go runtime's view when cpuid reports nothing.
func (i Info) DefaultWorkers() int {
	if i.LogicalCores > 0 {
		return i.LogicalCores
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// ResolveWorkers returns requested when positive, else DefaultWorkers.
func (i Info) ResolveWorkers(requested int) int {
	if requested > 0 {
		return requested
	}
	return i.DefaultWorkers()
}
