package agents

import (
	"maps"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"bizagents/pkg/errors"
)

// KPI describes one business metric known to the glossary
type KPI struct {
	Name        string
	Description string
	Unit        string
	Synonyms    []string

	// HigherIsBetter drives the direction of recommendations
	HigherIsBetter bool
}

// DefaultCatalog is the built-in business glossary
var DefaultCatalog = []KPI{
	{
		Name:           "revenue",
		Description:    "total recognised revenue for the period",
		Unit:           "EUR",
		Synonyms:       []string{"sales", "turnover", "income", "top line"},
		HigherIsBetter: true,
	},
	{
		Name:           "gross_margin",
		Description:    "gross profit divided by revenue",
		Unit:           "ratio",
		Synonyms:       []string{"margin", "profitability", "gross profit margin"},
		HigherIsBetter: true,
	},
	{
		Name:        "churn_rate",
		Description: "share of customers lost during the period",
		Unit:        "ratio",
		Synonyms:    []string{"churn", "attrition", "customer loss"},
	},
	{
		Name:           "active_customers",
		Description:    "customers with at least one order in the period",
		Unit:           "count",
		Synonyms:       []string{"customers", "customer base", "buyers"},
		HigherIsBetter: true,
	},
	{
		Name:           "average_order_value",
		Description:    "revenue divided by number of orders",
		Unit:           "EUR",
		Synonyms:       []string{"aov", "basket size", "order value"},
		HigherIsBetter: true,
	},
}

// Threshold bounds a KPI. An invalid bound means unbounded on that side.
type Threshold struct {
	Min decimal.NullDecimal
	Max decimal.NullDecimal
}

// Breach is a KPI value outside its threshold
type Breach struct {
	Direction string // "below" or "above"
	Bound     decimal.Decimal
	Severity  string
}

// Check compares value against the threshold; ok is false when no bound is breached
func (t Threshold) Check(value decimal.Decimal) (Breach, bool) {
	switch {
	case t.Min.Valid && value.LessThan(t.Min.Decimal):
		return Breach{Direction: "below", Bound: t.Min.Decimal, Severity: severity(value, t.Min.Decimal)}, true
	case t.Max.Valid && value.GreaterThan(t.Max.Decimal):
		return Breach{Direction: "above", Bound: t.Max.Decimal, Severity: severity(value, t.Max.Decimal)}, true
	default:
		return Breach{}, false
	}
}

var (
	highDeviation   = decimal.RequireFromString("0.2")
	mediumDeviation = decimal.RequireFromString("0.05")
)

func severity(value, bound decimal.Decimal) string {
	if bound.IsZero() {
		return "high"
	}
	deviation := value.Sub(bound).Div(bound).Abs()
	switch {
	case deviation.GreaterThanOrEqual(highDeviation):
		return "high"
	case deviation.GreaterThanOrEqual(mediumDeviation):
		return "medium"
	default:
		return "low"
	}
}

// KPIRegistry is the in-memory glossary: term translation and thresholds.
// It is immutable after construction.
type KPIRegistry struct {
	kpis       map[string]KPI
	terms      map[string]string
	thresholds map[string]Threshold
}

// NewKPIRegistry builds a registry over catalog with thresholds given as
// "kpi:min:max" triples; either bound may be empty.
func NewKPIRegistry(catalog []KPI, thresholds []string) (*KPIRegistry, error) {
	r := &KPIRegistry{
		kpis:       make(map[string]KPI, len(catalog)),
		terms:      make(map[string]string),
		thresholds: make(map[string]Threshold),
	}

	for _, k := range catalog {
		r.kpis[k.Name] = k
		r.terms[normalizeTerm(k.Name)] = k.Name
		for _, s := range k.Synonyms {
			r.terms[normalizeTerm(s)] = k.Name
		}
	}

	for _, raw := range thresholds {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, t, err := parseThreshold(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := r.kpis[name]; !ok {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "threshold for unknown KPI %q", name)
		}
		r.thresholds[name] = t
	}

	return r, nil
}

func parseThreshold(raw string) (string, Threshold, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 || parts[0] == "" {
		return "", Threshold{}, errors.Wrapf(errors.ErrInvalidInput, "threshold %q must be kpi:min:max", raw)
	}

	var t Threshold
	for i, dst := range []*decimal.NullDecimal{&t.Min, &t.Max} {
		s := strings.TrimSpace(parts[i+1])
		if s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return "", Threshold{}, errors.Wrapf(errors.ErrInvalidInput, "threshold %q: %v", raw, err)
		}
		*dst = decimal.NewNullDecimal(d)
	}

	if t.Min.Valid && t.Max.Valid && t.Min.Decimal.GreaterThan(t.Max.Decimal) {
		return "", Threshold{}, errors.Wrapf(errors.ErrInvalidInput, "threshold %q: min above max", raw)
	}
	return strings.TrimSpace(parts[0]), t, nil
}

func normalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	return strings.Join(strings.FieldsFunc(term, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), " ")
}

// Translate maps a business term to a KPI name
func (r *KPIRegistry) Translate(term string) (string, bool) {
	name, ok := r.terms[normalizeTerm(term)]
	return name, ok
}

// KPI returns the catalog entry for name
func (r *KPIRegistry) KPI(name string) (KPI, bool) {
	k, ok := r.kpis[name]
	return k, ok
}

// Threshold returns the configured threshold for name
func (r *KPIRegistry) Threshold(name string) (Threshold, bool) {
	t, ok := r.thresholds[name]
	return t, ok
}

// Names returns all KPI names, sorted
func (r *KPIRegistry) Names() []string {
	return slices.Sorted(maps.Keys(r.kpis))
}
