package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is an immutable view of the strategy's balances across all three
// ledgers, taken once per evaluation cycle. A post-operation snapshot is
// always obtained by re-querying balances, never by local arithmetic.
type Snapshot struct {
	PerpAccountValue decimal.Decimal
	PerpPositionSize decimal.Decimal
	SpotQuoteBalance decimal.Decimal
	SpotBaseBalance  decimal.Decimal
	TransitBalance   decimal.Decimal
	MarkPrice        decimal.Decimal
	FundingRate      decimal.Decimal
	TakenAt          time.Time

	// Tags annotate the persisted record only, e.g. "post_rebalance".
	Tags []string
}

// CurrentLeverage reports |position| * price / account_value. The second
// return is false when account value is not positive and no leverage is
// definable.
func (s Snapshot) CurrentLeverage() (decimal.Decimal, bool) {
	if !s.PerpAccountValue.IsPositive() {
		return decimal.Zero, false
	}
	return s.PerpPositionSize.Abs().Mul(s.MarkPrice).Div(s.PerpAccountValue), true
}

// TotalCapital is x + y + z*p. Transit balance is deliberately excluded; it
// must be drained before any allocation decision uses the snapshot.
func (s Snapshot) TotalCapital() decimal.Decimal {
	return s.PerpAccountValue.
		Add(s.SpotQuoteBalance).
		Add(s.SpotBaseBalance.Mul(s.MarkPrice))
}

func (s Snapshot) WithTags(tags ...string) Snapshot {
	out := s
	out.Tags = append(append([]string(nil), s.Tags...), tags...)
	return out
}
