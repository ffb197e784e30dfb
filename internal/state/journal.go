package state

import (
	"context"
	"encoding/json"
	"time"

	"xchain-basis-bot/internal/strategy"
)

// Record is one persisted strategy snapshot. Decimal fields are serialized
// as strings to keep the audit trail exact. Records are write-only; the core
// never reads them back.
type Record struct {
	Time             time.Time `json:"time"`
	Tags             []string  `json:"tags,omitempty"`
	PerpAccountValue string    `json:"perp_account_value"`
	PerpPositionSize string    `json:"perp_position_size"`
	SpotQuoteBalance string    `json:"spot_quote_balance"`
	SpotBaseBalance  string    `json:"spot_base_balance"`
	TransitBalance   string    `json:"bridge_transit_balance"`
	MarkPrice        string    `json:"mark_price"`
	FundingRate      string    `json:"funding_rate"`
	CurrentLeverage  string    `json:"current_leverage,omitempty"`
}

// Journal is the append-only persistence sink, one record per cycle.
type Journal interface {
	Append(ctx context.Context, rec Record) error
}

func RecordFromSnapshot(snap strategy.Snapshot) Record {
	rec := Record{
		Time:             snap.TakenAt,
		Tags:             snap.Tags,
		PerpAccountValue: snap.PerpAccountValue.String(),
		PerpPositionSize: snap.PerpPositionSize.String(),
		SpotQuoteBalance: snap.SpotQuoteBalance.String(),
		SpotBaseBalance:  snap.SpotBaseBalance.String(),
		TransitBalance:   snap.TransitBalance.String(),
		MarkPrice:        snap.MarkPrice.String(),
		FundingRate:      snap.FundingRate.String(),
	}
	if lev, ok := snap.CurrentLeverage(); ok {
		rec.CurrentLeverage = lev.String()
	}
	return rec
}

func (r Record) Marshal() (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
