package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesRun          Counter
	CycleFailures      Counter
	BridgeTransfers    Counter
	BridgeFailures     Counter
	Swaps              Counter
	SwapFailures       Counter
	PerpAdjusts        Counter
	PerpAdjustFailures Counter
	Unwinds            Counter
	SnapshotDegraded   Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesRun:          n,
		CycleFailures:      n,
		BridgeTransfers:    n,
		BridgeFailures:     n,
		Swaps:              n,
		SwapFailures:       n,
		PerpAdjusts:        n,
		PerpAdjustFailures: n,
		Unwinds:            n,
		SnapshotDegraded:   n,
	}
}
