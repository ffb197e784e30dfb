package venue

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

func decimalFromAny(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	default:
		return decimal.Zero, false
	}
}

func mapFromAny(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func sliceFromAny(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// parseAccountValue reads marginSummary.accountValue from a
// clearinghouseState payload.
func parseAccountValue(resp map[string]any) (decimal.Decimal, error) {
	summary, ok := mapFromAny(resp["marginSummary"])
	if !ok {
		return decimal.Zero, errors.New("clearinghouse state missing marginSummary")
	}
	value, ok := decimalFromAny(summary["accountValue"])
	if !ok {
		return decimal.Zero, errors.New("clearinghouse state missing accountValue")
	}
	return value, nil
}

// parsePositionSize finds the signed position size for one asset in a
// clearinghouseState payload. A missing entry is a flat position, not an
// error.
func parsePositionSize(resp map[string]any, asset string) (decimal.Decimal, error) {
	positions, ok := sliceFromAny(resp["assetPositions"])
	if !ok {
		return decimal.Zero, nil
	}
	for _, entry := range positions {
		wrapper, ok := mapFromAny(entry)
		if !ok {
			continue
		}
		position, ok := mapFromAny(wrapper["position"])
		if !ok {
			continue
		}
		if coin, _ := position["coin"].(string); coin != asset {
			continue
		}
		size, ok := decimalFromAny(position["szi"])
		if !ok {
			return decimal.Zero, fmt.Errorf("position for %s has invalid szi", asset)
		}
		return size, nil
	}
	return decimal.Zero, nil
}

// parseMid reads one asset's mid price out of an allMids payload.
func parseMid(resp map[string]any, asset string) (decimal.Decimal, error) {
	mid, ok := decimalFromAny(resp[asset])
	if !ok {
		return decimal.Zero, fmt.Errorf("no mid price for %s", asset)
	}
	return mid, nil
}

// parseFundingRate pairs metaAndAssetCtxs' universe with its per-asset
// contexts to find the current hourly funding rate.
func parseFundingRate(resp any, asset string) (decimal.Decimal, error) {
	parts, ok := sliceFromAny(resp)
	if !ok || len(parts) < 2 {
		return decimal.Zero, errors.New("unexpected metaAndAssetCtxs payload")
	}
	meta, ok := mapFromAny(parts[0])
	if !ok {
		return decimal.Zero, errors.New("metaAndAssetCtxs missing meta")
	}
	universe, ok := sliceFromAny(meta["universe"])
	if !ok {
		return decimal.Zero, errors.New("metaAndAssetCtxs missing universe")
	}
	ctxs, ok := sliceFromAny(parts[1])
	if !ok {
		return decimal.Zero, errors.New("metaAndAssetCtxs missing asset contexts")
	}
	for i, entry := range universe {
		assetMeta, ok := mapFromAny(entry)
		if !ok {
			continue
		}
		if name, _ := assetMeta["name"].(string); name != asset {
			continue
		}
		if i >= len(ctxs) {
			break
		}
		assetCtx, ok := mapFromAny(ctxs[i])
		if !ok {
			break
		}
		rate, ok := decimalFromAny(assetCtx["funding"])
		if !ok {
			return decimal.Zero, fmt.Errorf("asset context for %s has invalid funding", asset)
		}
		return rate, nil
	}
	return decimal.Zero, fmt.Errorf("no asset context for %s", asset)
}

// parseFundingHistory extracts the fundingRate series from a fundingHistory
// payload, oldest first as the venue returns it.
func parseFundingHistory(resp any) ([]decimal.Decimal, error) {
	entries, ok := sliceFromAny(resp)
	if !ok {
		return nil, errors.New("unexpected fundingHistory payload")
	}
	rates := make([]decimal.Decimal, 0, len(entries))
	for _, entry := range entries {
		record, ok := mapFromAny(entry)
		if !ok {
			continue
		}
		rate, ok := decimalFromAny(record["fundingRate"])
		if !ok {
			continue
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

type assetInfo struct {
	index      int
	szDecimals int32
}

// parseMeta indexes the perp universe by asset name.
func parseMeta(resp map[string]any) (map[string]assetInfo, error) {
	universe, ok := sliceFromAny(resp["universe"])
	if !ok {
		return nil, errors.New("meta payload missing universe")
	}
	assets := make(map[string]assetInfo, len(universe))
	for i, entry := range universe {
		assetMeta, ok := mapFromAny(entry)
		if !ok {
			continue
		}
		name, _ := assetMeta["name"].(string)
		if name == "" {
			continue
		}
		szDecimals, ok := decimalFromAny(assetMeta["szDecimals"])
		if !ok {
			return nil, fmt.Errorf("universe entry %s has invalid szDecimals", name)
		}
		assets[name] = assetInfo{index: i, szDecimals: int32(szDecimals.IntPart())}
	}
	return assets, nil
}

// orderStatusError inspects an /exchange response for a rejected order. The
// venue reports per-order errors inside an otherwise successful envelope.
func orderStatusError(resp map[string]any) error {
	if status, _ := resp["status"].(string); status != "ok" {
		return fmt.Errorf("order rejected: %v", resp["response"])
	}
	response, ok := mapFromAny(resp["response"])
	if !ok {
		return nil
	}
	data, ok := mapFromAny(response["data"])
	if !ok {
		return nil
	}
	statuses, ok := sliceFromAny(data["statuses"])
	if !ok {
		return nil
	}
	for _, entry := range statuses {
		status, ok := mapFromAny(entry)
		if !ok {
			continue
		}
		if msg, _ := status["error"].(string); msg != "" {
			return fmt.Errorf("order rejected: %s", msg)
		}
	}
	return nil
}
