package agents

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"bizagents/internal/orchestration"
	"bizagents/pkg/logger"
)

// SituationAwareness detects KPI threshold breaches
type SituationAwareness struct {
	dp       *DataProduct
	dg       *DataGovernance
	kpis     *KPIRegistry
	narrator narrator
	methods  orchestration.MethodSet
	log      *logger.Logger
}

// NewSituationAwareness creates the agent
func NewSituationAwareness(dp *DataProduct, dg *DataGovernance, kpis *KPIRegistry, n narrator) *SituationAwareness {
	a := &SituationAwareness{dp: dp, dg: dg, kpis: kpis, narrator: n, log: logger.Component("agent." + NameSituationAwareness)}
	a.methods = orchestration.MethodSet{
		MethodDetect: {Handler: a.detect, Validate: validateDetect, Timeout: llmStepTimeout},
	}
	return a
}

// Methods implements orchestration.Agent
func (a *SituationAwareness) Methods() orchestration.MethodSet {
	return a.methods
}

// Situation is one breached KPI
type Situation struct {
	KPI       string
	Period    string
	Value     decimal.Decimal
	Threshold decimal.Decimal
	Direction string
	Severity  string
}

func (s Situation) payload() map[string]any {
	return map[string]any{
		"kpi":       s.KPI,
		"period":    s.Period,
		"value":     s.Value.String(),
		"threshold": s.Threshold.String(),
		"direction": s.Direction,
		"severity":  s.Severity,
	}
}

var severityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// Detect compares every value in snapshot with its threshold.
// The result is ordered by severity, then KPI name.
func (a *SituationAwareness) Detect(snapshot Snapshot) []Situation {
	var out []Situation
	for kpi, v := range snapshot.Values {
		t, ok := a.kpis.Threshold(kpi)
		if !ok {
			continue
		}
		b, breached := t.Check(v)
		if !breached {
			continue
		}
		out = append(out, Situation{
			KPI:       kpi,
			Period:    snapshot.Period,
			Value:     v,
			Threshold: b.Bound,
			Direction: b.Direction,
			Severity:  b.Severity,
		})
	}

	slices.SortFunc(out, func(x, y Situation) int {
		return cmp.Or(cmp.Compare(severityRank[x.Severity], severityRank[y.Severity]), cmp.Compare(x.KPI, y.KPI))
	})
	return out
}

func validateDetect(input orchestration.Payload) error {
	if _, err := optionalString(input, "period"); err != nil {
		return err
	}
	_, err := stringList(input, "focus")
	return err
}

// detect reuses the values of an earlier data_product.load step of the same
// period and loads them otherwise. focus terms narrow the KPIs.
func (a *SituationAwareness) detect(ctx context.Context, input orchestration.Payload) (orchestration.Payload, error) {
	period, _ := optionalString(input, "period")
	focus, _ := stringList(input, "focus")

	var kpis []string
	if len(focus) > 0 {
		kpis = a.dg.Translate(focus).KPIs
	}

	snapshot, err := a.snapshot(ctx, period, kpis)
	if err != nil {
		return nil, err
	}

	situations := a.Detect(snapshot)
	out := orchestration.Payload{
		"period":     snapshot.Period,
		"situations": situationPayloads(situations),
	}
	if len(situations) == 0 {
		return out, nil
	}

	a.log.Debugw("Situations detected", "period", snapshot.Period, "count", len(situations))

	narrative, err := a.narrator.narrate(ctx, "agents/situation_awareness", map[string]any{
		"Period":     snapshot.Period,
		"Situations": situations,
	})
	if err != nil {
		return nil, err
	}
	if narrative != "" {
		out["narrative"] = narrative
	}
	return out, nil
}

func (a *SituationAwareness) snapshot(ctx context.Context, period string, kpis []string) (Snapshot, error) {
	if prior, ok := latestWith(orchestration.PriorOutputs(ctx), "values"); ok {
		priorPeriod, _ := optionalString(prior, "period")
		if period == "" || period == priorPeriod {
			values, err := decimalMap(prior, "values")
			if err == nil && len(values) > 0 {
				if len(kpis) > 0 {
					for k := range values {
						if !slices.Contains(kpis, k) {
							delete(values, k)
						}
					}
				}
				return Snapshot{Period: priorPeriod, Values: values}, nil
			}
		}
	}
	return a.dp.Load(ctx, period, kpis)
}

func situationPayloads(situations []Situation) []map[string]any {
	out := make([]map[string]any, 0, len(situations))
	for _, s := range situations {
		out = append(out, s.payload())
	}
	return out
}

const llmStepTimeout = 2 * time.Minute
