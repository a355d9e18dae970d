package agents

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
)

// stringList reads a list of strings from p[key]. Lists decoded from JSON
// arrive as []any.
func stringList(p orchestration.Payload, key string) ([]string, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errors.Wrapf(errors.ErrInvalidInput, "%s must contain strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "%s must be a list of strings, got %T", key, v)
	}
}

func optionalString(p orchestration.Payload, key string) (string, error) {
	switch v := p[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", errors.Wrapf(errors.ErrInvalidInput, "%s must be a string, got %T", key, v)
	}
}

// decimalMap reads KPI values written by data_product.load
func decimalMap(p orchestration.Payload, key string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case map[string]string:
		for k, s := range v {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, errors.Wrapf(errors.ErrInvalidInput, "%s.%s: %v", key, k, err)
			}
			out[k] = d
		}
	case map[string]any:
		for k, raw := range v {
			d, err := decimal.NewFromString(fmt.Sprint(raw))
			if err != nil {
				return nil, errors.Wrapf(errors.ErrInvalidInput, "%s.%s: %v", key, k, err)
			}
			out[k] = d
		}
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "%s must be a map, got %T", key, v)
	}
	return out, nil
}

// latestWith returns the most recent prior output that carries key
func latestWith(prior []orchestration.Payload, key string) (orchestration.Payload, bool) {
	for _, p := range slices.Backward(prior) {
		if _, ok := p[key]; ok {
			return p, true
		}
	}
	return nil, false
}

func decimalStrings(values map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v.String()
	}
	return out
}

// relativeChange returns (cur-prev)/prev as a signed percentage string
func relativeChange(cur, prev decimal.Decimal) string {
	if prev.IsZero() {
		return ""
	}
	pct := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(1)
	if pct.IsPositive() {
		return "+" + pct.String() + "%"
	}
	return pct.String() + "%"
}
