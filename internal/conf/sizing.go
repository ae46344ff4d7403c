package conf

import "github.com/klauspost/cpuid/v2"

// SuggestedPoolScale returns a multiplier for the default pool cell counts
// in config.yaml, scaled to the host's logical core count: more cores
// means more concurrent pipeline stages potentially holding a cell at
// once, so the worst case the pools must cover grows with it.
func SuggestedPoolScale() int {
	cores := cpuid.CPU.LogicalCores
	if cores < 1 {
		cores = 1
	}
	scale := cores / 4
	if scale < 1 {
		scale = 1
	}
	return scale
}
