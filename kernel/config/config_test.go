package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	specs := []struct {
		descr string
		data  string
		exp   Config
	}{
		{
			descr: "empty document yields defaults",
			data:  "",
			exp:   Default(),
		},
		{
			descr: "overrides applied on top of defaults",
			data: `
direct_map_bytes = 2147483648
trace_memory_map = true
`,
			exp: Config{
				DirectMapBytes: 2 << 30,
				TraceMemoryMap: true,
			},
		},
		{
			descr: "malformed document falls back to defaults",
			data:  "direct_map_bytes = {",
			exp:   Default(),
		},
		{
			descr: "direct map capacity rounded down to 1GiB multiple",
			data:  "direct_map_bytes = 1610612736",
			exp: Config{
				DirectMapBytes: 1 << 30,
			},
		},
		{
			descr: "heap cap passes through",
			data:  "heap_bytes = 1048576",
			exp: Config{
				DirectMapBytes: 4 << 30,
				HeapBytes:      1 << 20,
			},
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			got := Parse([]byte(spec.data))
			if diff := cmp.Diff(spec.exp, got); diff != "" {
				t.Errorf("unexpected config (-want +got):\n%s", diff)
			}
		})
	}
}
