package agents

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// DataProduct serves KPI values from a KPISource
type DataProduct struct {
	source  KPISource
	kpis    *KPIRegistry
	dg      *DataGovernance
	methods orchestration.MethodSet
	log     *logger.Logger
}

// NewDataProduct creates the agent
func NewDataProduct(source KPISource, kpis *KPIRegistry, dg *DataGovernance) *DataProduct {
	a := &DataProduct{source: source, kpis: kpis, dg: dg, log: logger.Component("agent." + NameDataProduct)}
	a.methods = orchestration.MethodSet{
		MethodLoad: {Handler: a.load, Validate: validateLoad},
	}
	return a
}

// Methods implements orchestration.Agent
func (a *DataProduct) Methods() orchestration.MethodSet {
	return a.methods
}

// Connect fails when the source holds no data at all
func (a *DataProduct) Connect(ctx context.Context) error {
	periods, err := a.source.Periods(ctx)
	if err != nil {
		return errors.Wrap(err, "list KPI periods")
	}
	if len(periods) == 0 {
		return errors.Wrap(errors.ErrUnavailable, "KPI source has no periods")
	}
	a.log.Debugw("KPI source ready", "periods", len(periods), "latest", periods[len(periods)-1])
	return nil
}

// Snapshot is the set of KPI values for one period
type Snapshot struct {
	Period  string
	Values  map[string]decimal.Decimal
	Missing []string
}

// Load reads kpis for period. An empty period means the latest one and
// no kpis means every catalog KPI.
func (a *DataProduct) Load(ctx context.Context, period string, kpis []string) (Snapshot, error) {
	periods, err := a.source.Periods(ctx)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "list KPI periods")
	}
	if period == "" {
		if len(periods) == 0 {
			return Snapshot{}, errors.Wrap(errors.ErrNotFound, "no KPI periods available")
		}
		period = periods[len(periods)-1]
	}

	if len(kpis) == 0 {
		kpis = a.kpis.Names()
	}
	for _, k := range kpis {
		if _, ok := a.kpis.KPI(k); !ok {
			return Snapshot{}, errors.Wrapf(errors.ErrInvalidInput, "unknown KPI %q", k)
		}
	}

	values, err := a.source.Values(ctx, period, kpis)
	if err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{Period: period, Values: values}
	for _, k := range kpis {
		if _, ok := values[k]; !ok {
			s.Missing = append(s.Missing, k)
		}
	}
	return s, nil
}

// Previous returns the snapshot of the period before period; ok is false for the first period
func (a *DataProduct) Previous(ctx context.Context, period string, kpis []string) (Snapshot, bool, error) {
	periods, err := a.source.Periods(ctx)
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "list KPI periods")
	}
	prev := previousPeriod(periods, period)
	if prev == "" {
		return Snapshot{}, false, nil
	}
	s, err := a.Load(ctx, prev, kpis)
	return s, err == nil, err
}

func validateLoad(input orchestration.Payload) error {
	if _, err := optionalString(input, "period"); err != nil {
		return err
	}
	if _, err := stringList(input, "kpis"); err != nil {
		return err
	}
	_, err := stringList(input, "terms")
	return err
}

// load picks its KPI list from, in order: input kpis, input terms
// translated by data_governance, the kpis of an earlier translate_terms step.
func (a *DataProduct) load(ctx context.Context, input orchestration.Payload) (orchestration.Payload, error) {
	period, _ := optionalString(input, "period")
	kpis, _ := stringList(input, "kpis")

	if len(kpis) == 0 {
		terms, _ := stringList(input, "terms")
		if len(terms) > 0 {
			t := a.dg.Translate(terms)
			if len(t.KPIs) == 0 {
				return nil, errors.Wrapf(errors.ErrInvalidInput, "none of the terms %v is a known KPI", terms)
			}
			kpis = t.KPIs
		} else if prior, ok := latestWith(orchestration.PriorOutputs(ctx), "kpis"); ok {
			kpis, _ = stringList(prior, "kpis")
		}
	}

	s, err := a.Load(ctx, period, slices.Clone(kpis))
	if err != nil {
		return nil, err
	}

	return orchestration.Payload{
		"period":  s.Period,
		"values":  decimalStrings(s.Values),
		"missing": s.Missing,
	}, nil
}
