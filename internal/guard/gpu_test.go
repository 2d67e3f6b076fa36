package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSMIUtilization(t *testing.T) {
	tests := []struct {
		name  string
		out   string
		want  float64
		found bool
	}{
		{"single gpu", "42\n", 42, true},
		{"two gpus takes busiest", "17\n83\n", 83, true},
		{"whitespace", "  7  \n", 7, true},
		{"empty", "", 0, false},
		{"garbage", "N/A\n[Not Supported]\n", 0, false},
		{"mixed", "N/A\n55\n", 55, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := parseSMIUtilization(tt.out)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGPUReaderMissingBinaryDisables(t *testing.T) {
	r := newGPUReader("/nonexistent/nvidia-smi")
	_, ok := r.utilization(context.Background())
	assert.False(t, ok)
	assert.True(t, r.disabled.Load(), "missing binary must stop further probes")
}
