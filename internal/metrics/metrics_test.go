package metrics

import (
	"testing"

	"github.com/waveforge/netrender/internal/pool"
)

func TestDisabledCollectorNoops(t *testing.T) {
	c := New(false)
	// Must not panic even though nothing is registered.
	c.SetPoolStats("msg.audiopcm", pool.Stats{Total: 10, Used: 2, Peak: 5})
	c.SetReservoirDepth("gorger", 3)
	c.SetRepairDepth("raop", 1)
	c.IncResends("raop")
	c.IncDrops("songcast", "duplicate")
	c.IncStarvation("stream-1")
}

func TestEnabledCollectorRecordsPoolStats(t *testing.T) {
	c := New(true)
	c.SetPoolStats("msg.audiopcm", pool.Stats{Total: 10, Used: 2, Peak: 5})

	mf, err := c.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, m := range mf {
		if m.GetName() == "netrender_pool_cells" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected netrender_pool_cells metric family to be registered")
	}
}

func TestGetMetricsDefaultsToDisabled(t *testing.T) {
	c := GetMetrics()
	if c == nil {
		t.Fatal("expected a non-nil no-op collector")
	}
}
