package agents

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// DeepAnalysis explains the movement of one KPI
type DeepAnalysis struct {
	dp       *DataProduct
	kpis     *KPIRegistry
	narrator narrator
	methods  orchestration.MethodSet
	log      *logger.Logger
}

// NewDeepAnalysis creates the agent
func NewDeepAnalysis(dp *DataProduct, kpis *KPIRegistry, n narrator) *DeepAnalysis {
	a := &DeepAnalysis{dp: dp, kpis: kpis, narrator: n, log: logger.Component("agent." + NameDeepAnalysis)}
	a.methods = orchestration.MethodSet{
		MethodAnalyze: {Handler: a.analyze, Validate: validateAnalyze, Timeout: llmStepTimeout},
	}
	return a
}

// Methods implements orchestration.Agent
func (a *DeepAnalysis) Methods() orchestration.MethodSet {
	return a.methods
}

// Analysis is the root-cause report for one KPI
type Analysis struct {
	KPI       string
	Period    string
	Value     decimal.Decimal
	Change    string // empty for the first period
	Declining bool   // moved in the unfavourable direction
	Findings  []string
	Narrative string
}

func (r Analysis) payload() orchestration.Payload {
	p := orchestration.Payload{
		"kpi":       r.KPI,
		"period":    r.Period,
		"value":     r.Value.String(),
		"change":    r.Change,
		"declining": r.Declining,
		"findings":  r.Findings,
	}
	if r.Narrative != "" {
		p["analysis"] = r.Narrative
	}
	return p
}

// significantChange is the relative move, in percent, worth a finding
var significantChange = decimal.NewFromInt(5)

// Analyze compares kpi with the previous period and lists co-moving KPIs
func (a *DeepAnalysis) Analyze(ctx context.Context, kpi, period string) (Analysis, error) {
	meta, ok := a.kpis.KPI(kpi)
	if !ok {
		return Analysis{}, errors.Wrapf(errors.ErrInvalidInput, "unknown KPI %q", kpi)
	}

	current, err := a.dp.Load(ctx, period, nil)
	if err != nil {
		return Analysis{}, err
	}
	value, ok := current.Values[kpi]
	if !ok {
		return Analysis{}, errors.Wrapf(errors.ErrNotFound, "no value for %s in %s", kpi, current.Period)
	}

	report := Analysis{KPI: kpi, Period: current.Period, Value: value}

	previous, hasPrevious, err := a.dp.Previous(ctx, current.Period, nil)
	if err != nil {
		return Analysis{}, err
	}

	type related struct{ KPI, Value, Change string }
	var rel []related

	if hasPrevious {
		if prev, ok := previous.Values[kpi]; ok {
			report.Change = relativeChange(value, prev)
			report.Declining = value.LessThan(prev) == meta.HigherIsBetter && !value.Equal(prev)
			report.Findings = append(report.Findings, fmt.Sprintf("%s moved %s from %s in %s to %s",
				kpi, report.Change, prev, previous.Period, value))
		}
	}

	for _, name := range a.kpis.Names() {
		if name == kpi {
			continue
		}
		cur, ok := current.Values[name]
		if !ok {
			continue
		}
		r := related{KPI: name, Value: cur.String()}
		if prev, ok := previous.Values[name]; ok && !prev.IsZero() {
			r.Change = relativeChange(cur, prev)
			move := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Abs()
			if move.GreaterThanOrEqual(significantChange) {
				report.Findings = append(report.Findings, fmt.Sprintf("%s moved %s in the same period", name, r.Change))
			}
		}
		rel = append(rel, r)
	}

	prevValue := ""
	if p, ok := previous.Values[kpi]; ok {
		prevValue = p.String()
	}
	report.Narrative, err = a.narrator.narrate(ctx, "agents/deep_analysis", map[string]any{
		"KPI":            kpi,
		"Description":    meta.Description,
		"Period":         current.Period,
		"Value":          value.String(),
		"Previous":       prevValue,
		"PreviousPeriod": previous.Period,
		"Change":         report.Change,
		"Related":        rel,
		"Findings":       report.Findings,
	})
	if err != nil {
		return Analysis{}, err
	}
	return report, nil
}

func validateAnalyze(input orchestration.Payload) error {
	if _, err := optionalString(input, "kpi"); err != nil {
		return err
	}
	if _, err := optionalString(input, "period"); err != nil {
		return err
	}
	switch input["situation"].(type) {
	case nil, map[string]any:
		return nil
	default:
		return errors.Wrap(errors.ErrInvalidInput, "situation must be an object")
	}
}

// analyze targets, in order: input kpi, input situation, the most severe
// situation of an earlier detect step.
func (a *DeepAnalysis) analyze(ctx context.Context, input orchestration.Payload) (orchestration.Payload, error) {
	kpi, _ := optionalString(input, "kpi")
	period, _ := optionalString(input, "period")

	if kpi == "" {
		situation, ok := input["situation"].(map[string]any)
		if !ok {
			situation, ok = firstSituation(orchestration.PriorOutputs(ctx))
		}
		if !ok {
			return nil, errors.Wrap(errors.ErrInvalidInput, "nothing to analyze: no kpi, situation or earlier detect step")
		}
		kpi, _ = situation["kpi"].(string)
		if period == "" {
			period, _ = situation["period"].(string)
		}
	}

	report, err := a.Analyze(ctx, kpi, period)
	if err != nil {
		return nil, err
	}
	return report.payload(), nil
}

func firstSituation(prior []orchestration.Payload) (map[string]any, bool) {
	p, ok := latestWith(prior, "situations")
	if !ok {
		return nil, false
	}
	switch list := p["situations"].(type) {
	case []map[string]any:
		if len(list) > 0 {
			return list[0], true
		}
	case []any:
		if len(list) > 0 {
			m, ok := list[0].(map[string]any)
			return m, ok
		}
	}
	return nil, false
}
