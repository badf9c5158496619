package observability

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestWholeUnits(t *testing.T) {
	tests := []struct {
		name     string
		x        *uint256.Int
		decimals uint8
		want     float64
	}{
		{"nil", nil, 18, 0},
		{"no decimals", uint256.NewInt(42), 0, 42},
		{"fraction", uint256.NewInt(1500), 3, 1.5},
		{"eighteen decimals", new(uint256.Int).Mul(uint256.NewInt(7), uint256.NewInt(1_000_000_000_000_000_000)), 18, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WholeUnits(tt.x, tt.decimals); got != tt.want {
				t.Errorf("WholeUnits() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordEventCommitted(t *testing.T) {
	before := counterValue(t, DefaultMetrics.EventsCommitted.WithLabelValues("SWAP"))
	RecordEventCommitted("SWAP")
	RecordEventCommitted("SWAP")
	if got := counterValue(t, DefaultMetrics.EventsCommitted.WithLabelValues("SWAP")); got != before+2 {
		t.Errorf("events committed = %v, want %v", got, before+2)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
