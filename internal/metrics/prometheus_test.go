package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusCountersExported(t *testing.T) {
	p := NewPrometheus()
	p.Metrics.CyclesRun.Inc()
	p.Metrics.CyclesRun.Inc()
	p.Metrics.BridgeTransfers.Inc()

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	text := string(body)
	if !strings.Contains(text, "xchain_basis_bot_cycles_total 2") {
		t.Fatalf("cycles counter missing or wrong:\n%s", text)
	}
	if !strings.Contains(text, "xchain_basis_bot_bridge_transfers_total 1") {
		t.Fatalf("bridge counter missing or wrong:\n%s", text)
	}
	if !strings.Contains(text, "xchain_basis_bot_unwinds_total 0") {
		t.Fatalf("untouched counter must still be exported:\n%s", text)
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	m.CyclesRun.Inc()
	m.CycleFailures.Inc()
	m.SnapshotDegraded.Inc()
}
