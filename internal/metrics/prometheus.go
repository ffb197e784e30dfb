package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "xchain_basis_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		CyclesRun:          promCounter{counter("cycles_total", "Total rebalance cycles started.")},
		CycleFailures:      promCounter{counter("cycle_failures_total", "Total rebalance cycles aborted on error.")},
		BridgeTransfers:    promCounter{counter("bridge_transfers_total", "Total bridge transfers submitted.")},
		BridgeFailures:     promCounter{counter("bridge_failures_total", "Total bridge transfer failures.")},
		Swaps:              promCounter{counter("swaps_total", "Total spot swaps submitted.")},
		SwapFailures:       promCounter{counter("swap_failures_total", "Total spot swap failures.")},
		PerpAdjusts:        promCounter{counter("perp_adjusts_total", "Total perp position adjustments submitted.")},
		PerpAdjustFailures: promCounter{counter("perp_adjust_failures_total", "Total perp position adjustment failures.")},
		Unwinds:            promCounter{counter("unwinds_total", "Total unwind attempts.")},
		SnapshotDegraded:   promCounter{counter("snapshot_degraded_total", "Total snapshot fields degraded to zero.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
