package venue

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func unmarshalMap(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return m
}

const clearinghouseFixture = `{
	"marginSummary": {"accountValue": "412.37", "totalNtlPos": "1200.5"},
	"assetPositions": [
		{"position": {"coin": "BTC", "szi": "0.01"}},
		{"position": {"coin": "ETH", "szi": "-0.15"}}
	]
}`

func TestParseAccountValue(t *testing.T) {
	resp := unmarshalMap(t, clearinghouseFixture)
	value, err := parseAccountValue(resp)
	if err != nil {
		t.Fatalf("parseAccountValue: %v", err)
	}
	if !value.Equal(decimal.RequireFromString("412.37")) {
		t.Fatalf("account value = %s, want 412.37", value)
	}
}

func TestParseAccountValueMissingSummary(t *testing.T) {
	if _, err := parseAccountValue(map[string]any{}); err == nil {
		t.Fatal("missing marginSummary must error")
	}
}

func TestParsePositionSize(t *testing.T) {
	resp := unmarshalMap(t, clearinghouseFixture)
	size, err := parsePositionSize(resp, "ETH")
	if err != nil {
		t.Fatalf("parsePositionSize: %v", err)
	}
	if !size.Equal(decimal.RequireFromString("-0.15")) {
		t.Fatalf("position size = %s, want -0.15", size)
	}
}

func TestParsePositionSizeMissingAssetIsFlat(t *testing.T) {
	resp := unmarshalMap(t, clearinghouseFixture)
	size, err := parsePositionSize(resp, "SOL")
	if err != nil {
		t.Fatalf("parsePositionSize: %v", err)
	}
	if !size.IsZero() {
		t.Fatalf("position size = %s, want 0 for an absent asset", size)
	}
}

func TestParseMid(t *testing.T) {
	resp := unmarshalMap(t, `{"ETH": "2001.5", "BTC": "64000"}`)
	mid, err := parseMid(resp, "ETH")
	if err != nil {
		t.Fatalf("parseMid: %v", err)
	}
	if !mid.Equal(decimal.RequireFromString("2001.5")) {
		t.Fatalf("mid = %s, want 2001.5", mid)
	}
	if _, err := parseMid(resp, "DOGE"); err == nil {
		t.Fatal("missing asset must error")
	}
}

func TestParseFundingRate(t *testing.T) {
	var resp any
	fixture := `[
		{"universe": [{"name": "BTC", "szDecimals": 5}, {"name": "ETH", "szDecimals": 4}]},
		[{"funding": "0.00002"}, {"funding": "0.0000125"}]
	]`
	if err := json.Unmarshal([]byte(fixture), &resp); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	rate, err := parseFundingRate(resp, "ETH")
	if err != nil {
		t.Fatalf("parseFundingRate: %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("0.0000125")) {
		t.Fatalf("funding rate = %s, want 0.0000125", rate)
	}
	if _, err := parseFundingRate(resp, "SOL"); err == nil {
		t.Fatal("asset outside the universe must error")
	}
}

func TestParseFundingHistory(t *testing.T) {
	var resp any
	fixture := `[
		{"fundingRate": "0.00001", "time": 1},
		{"fundingRate": "-0.00002", "time": 2}
	]`
	if err := json.Unmarshal([]byte(fixture), &resp); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	rates, err := parseFundingHistory(resp)
	if err != nil {
		t.Fatalf("parseFundingHistory: %v", err)
	}
	if len(rates) != 2 || !rates[1].Equal(decimal.RequireFromString("-0.00002")) {
		t.Fatalf("rates = %v, want the oldest-first series", rates)
	}
}

func TestParseMeta(t *testing.T) {
	resp := unmarshalMap(t, `{"universe": [{"name": "BTC", "szDecimals": 5}, {"name": "ETH", "szDecimals": 4}]}`)
	assets, err := parseMeta(resp)
	if err != nil {
		t.Fatalf("parseMeta: %v", err)
	}
	eth, ok := assets["ETH"]
	if !ok {
		t.Fatal("ETH missing from parsed universe")
	}
	if eth.index != 1 || eth.szDecimals != 4 {
		t.Fatalf("ETH info = %+v, want index 1 szDecimals 4", eth)
	}
}

func TestOrderStatusError(t *testing.T) {
	ok := unmarshalMap(t, `{"status": "ok", "response": {"data": {"statuses": [{"filled": {"totalSz": "0.1"}}]}}}`)
	if err := orderStatusError(ok); err != nil {
		t.Fatalf("filled order reported as error: %v", err)
	}

	rejected := unmarshalMap(t, `{"status": "ok", "response": {"data": {"statuses": [{"error": "Insufficient margin"}]}}}`)
	if err := orderStatusError(rejected); err == nil {
		t.Fatal("per-order error must surface")
	}

	failed := unmarshalMap(t, `{"status": "err", "response": "bad nonce"}`)
	if err := orderStatusError(failed); err == nil {
		t.Fatal("non-ok envelope must surface")
	}
}
