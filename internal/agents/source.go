package agents

import (
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"bizagents/pkg/errors"
)

// KPISource supplies KPI values per reporting period
type KPISource interface {
	// Values returns the requested KPIs for period. KPIs without data are omitted.
	Values(ctx context.Context, period string, kpis []string) (map[string]decimal.Decimal, error)

	// Periods returns the known periods, oldest first
	Periods(ctx context.Context) ([]string, error)
}

// MemorySource is an in-memory KPISource
type MemorySource struct {
	mu      sync.RWMutex
	periods []string
	values  map[string]map[string]decimal.Decimal
}

// NewMemorySource creates an empty source
func NewMemorySource() *MemorySource {
	return &MemorySource{values: make(map[string]map[string]decimal.Decimal)}
}

// SampleSource returns a source seeded with three quarters of sample data
func SampleSource() *MemorySource {
	s := NewMemorySource()
	for _, row := range []struct {
		period string
		values map[string]string
	}{
		{"2025-Q1", map[string]string{"revenue": "120000", "gross_margin": "0.41", "churn_rate": "0.031", "active_customers": "1850", "average_order_value": "64.80"}},
		{"2025-Q2", map[string]string{"revenue": "112000", "gross_margin": "0.38", "churn_rate": "0.042", "active_customers": "1790", "average_order_value": "62.60"}},
		{"2025-Q3", map[string]string{"revenue": "96000", "gross_margin": "0.33", "churn_rate": "0.058", "active_customers": "1702", "average_order_value": "56.40"}},
	} {
		for kpi, v := range row.values {
			s.Set(row.period, kpi, decimal.RequireFromString(v))
		}
	}
	return s
}

// Set stores one value. Periods sort lexically, so use sortable labels like 2025-Q3.
func (s *MemorySource) Set(period, kpi string, value decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKPI, ok := s.values[period]
	if !ok {
		byKPI = make(map[string]decimal.Decimal)
		s.values[period] = byKPI
		i, _ := slices.BinarySearch(s.periods, period)
		s.periods = slices.Insert(s.periods, i, period)
	}
	byKPI[kpi] = value
}

// Values implements KPISource
func (s *MemorySource) Values(ctx context.Context, period string, kpis []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKPI, ok := s.values[period]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "no KPI data for period %s", period)
	}

	out := make(map[string]decimal.Decimal, len(kpis))
	for _, k := range kpis {
		if v, ok := byKPI[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Periods implements KPISource
func (s *MemorySource) Periods(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.periods), nil
}

// previousPeriod returns the period before period, or "" when there is none
func previousPeriod(periods []string, period string) string {
	i := slices.Index(periods, period)
	if i <= 0 {
		return ""
	}
	return periods[i-1]
}
