package rebalance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestUnwindClosesBothLegs(t *testing.T) {
	settlement := &mockSettlement{balance: d("0")}
	venue := &mockVenue{settlement: settlement}
	spot := &mockSpot{balances: map[string]decimal.Decimal{"USDC": d("0")}}
	br := &mockBridge{}
	snaps := &mockSnaps{snap: snapOf("100", "0", "2.5", "2000", "0")}
	jrnl := &mockJournal{}

	orch := newTestOrchestrator(venue, spot, settlement, br, snaps, jrnl)
	if err := orch.Unwind(context.Background()); err != nil {
		t.Fatalf("Unwind: %v", err)
	}

	if len(venue.adjusts) != 1 || !venue.adjusts[0].IsZero() {
		t.Fatalf("adjusts = %v, want exactly [0]", venue.adjusts)
	}
	if len(spot.swaps) != 1 {
		t.Fatalf("swaps = %v, want one base->quote swap", spot.swaps)
	}
	if spot.swaps[0].from != "ETH" || spot.swaps[0].to != "USDC" || !spot.swaps[0].amount.Equal(d("2.5")) {
		t.Fatalf("swap = %+v, want 2.5 ETH->USDC", spot.swaps[0])
	}
	if len(br.calls) != 0 {
		t.Fatalf("bridge calls = %v, unwind must not bridge", br.calls)
	}

	if len(jrnl.records) != 2 {
		t.Fatalf("records = %d, want pre and post snapshots", len(jrnl.records))
	}
	if len(jrnl.records[0].Tags) != 0 {
		t.Fatalf("pre-unwind record tags = %v, want none", jrnl.records[0].Tags)
	}
	last := jrnl.records[1]
	if len(last.Tags) != 1 || last.Tags[0] != "post_unwind" {
		t.Fatalf("final record tags = %v, want [post_unwind]", last.Tags)
	}
}

func TestUnwindSkipsDustBase(t *testing.T) {
	settlement := &mockSettlement{balance: d("0")}
	venue := &mockVenue{settlement: settlement}
	spot := &mockSpot{balances: map[string]decimal.Decimal{"USDC": d("0")}}
	br := &mockBridge{}
	// 0.0000001 rounds to zero at six decimal places.
	snaps := &mockSnaps{snap: snapOf("100", "0", "0.0000001", "2000", "0")}
	jrnl := &mockJournal{}

	orch := newTestOrchestrator(venue, spot, settlement, br, snaps, jrnl)
	if err := orch.Unwind(context.Background()); err != nil {
		t.Fatalf("Unwind: %v", err)
	}
	if len(spot.swaps) != 0 {
		t.Fatalf("swaps = %v, dust base must not be sold", spot.swaps)
	}
	if len(venue.adjusts) != 1 {
		t.Fatalf("adjusts = %v, perp close must still run", venue.adjusts)
	}
}

func TestUnwindSellsResidualBelowSwapFloor(t *testing.T) {
	settlement := &mockSettlement{balance: d("0")}
	venue := &mockVenue{settlement: settlement}
	spot := &mockSpot{balances: map[string]decimal.Decimal{"USDC": d("0")}}
	br := &mockBridge{}
	// 0.0001 ETH at 2000 is $0.20, below the $1 swap floor. The exit still
	// sells it.
	snaps := &mockSnaps{snap: snapOf("100", "0", "0.0001", "2000", "0")}
	jrnl := &mockJournal{}

	orch := newTestOrchestrator(venue, spot, settlement, br, snaps, jrnl)
	if err := orch.Unwind(context.Background()); err != nil {
		t.Fatalf("Unwind: %v", err)
	}
	if len(spot.swaps) != 1 || !spot.swaps[0].amount.Equal(d("0.0001")) {
		t.Fatalf("swaps = %v, want the full 0.0001 ETH sold", spot.swaps)
	}
}

func TestUnwindRunsBothLegsWhenOneFails(t *testing.T) {
	settlement := &mockSettlement{balance: d("0")}
	venue := &mockVenue{settlement: settlement, adjustErr: errors.New("venue rejected order")}
	spot := &mockSpot{balances: map[string]decimal.Decimal{"USDC": d("0")}}
	br := &mockBridge{}
	snaps := &mockSnaps{snap: snapOf("100", "0", "2.5", "2000", "0")}
	jrnl := &mockJournal{}

	orch := newTestOrchestrator(venue, spot, settlement, br, snaps, jrnl)
	err := orch.Unwind(context.Background())
	if err == nil || !strings.Contains(err.Error(), "close perp") {
		t.Fatalf("err = %v, want close perp failure", err)
	}
	if len(spot.swaps) != 1 {
		t.Fatalf("swaps = %v, base sale must run despite the perp failure", spot.swaps)
	}
	// The failed unwind must not be journaled as complete.
	for _, rec := range jrnl.records {
		for _, tag := range rec.Tags {
			if tag == "post_unwind" {
				t.Fatal("post_unwind persisted despite a failed leg")
			}
		}
	}
}
