package agents

import (
	"context"

	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// playbook holds the candidate actions per KPI
var playbook = map[string][]string{
	"revenue": {
		"Run a win-back campaign for customers inactive for two quarters",
		"Review pricing of the top 20 products against competitors",
		"Increase sales coverage of the highest-value segment",
	},
	"gross_margin": {
		"Renegotiate supplier terms for the largest cost items",
		"Reduce discount depth on low-margin promotions",
		"Shift marketing spend toward higher-margin product lines",
	},
	"churn_rate": {
		"Set up proactive outreach for accounts with declining usage",
		"Add an onboarding check-in during the first 30 days",
		"Offer annual plans with a retention incentive",
	},
	"active_customers": {
		"Launch a referral programme",
		"Reactivate dormant customers with a targeted offer",
	},
	"average_order_value": {
		"Introduce bundles for frequently co-purchased products",
		"Set a free-shipping threshold above the current average basket",
	},
}

// SolutionFinder proposes actions for an analysed KPI
type SolutionFinder struct {
	da       *DeepAnalysis
	narrator narrator
	methods  orchestration.MethodSet
	log      *logger.Logger
}

// NewSolutionFinder creates the agent
func NewSolutionFinder(da *DeepAnalysis, n narrator) *SolutionFinder {
	a := &SolutionFinder{da: da, narrator: n, log: logger.Component("agent." + NameSolutionFinder)}
	a.methods = orchestration.MethodSet{
		MethodRecommend: {Handler: a.recommend, Validate: validateRecommend, Timeout: llmStepTimeout},
	}
	return a
}

// Methods implements orchestration.Agent
func (a *SolutionFinder) Methods() orchestration.MethodSet {
	return a.methods
}

func validateRecommend(input orchestration.Payload) error {
	if _, err := optionalString(input, "kpi"); err != nil {
		return err
	}
	_, err := optionalString(input, "period")
	return err
}

// recommend works from an earlier analyze step; without one it runs the
// analysis for the input kpi itself.
func (a *SolutionFinder) recommend(ctx context.Context, input orchestration.Payload) (orchestration.Payload, error) {
	kpi, _ := optionalString(input, "kpi")
	period, _ := optionalString(input, "period")

	var (
		findings  []string
		notes     string
		declining = true
	)

	prior, ok := latestWith(orchestration.PriorOutputs(ctx), "findings")
	if ok && (kpi == "" || prior["kpi"] == kpi) {
		kpi, _ = prior["kpi"].(string)
		findings, _ = stringList(prior, "findings")
		notes, _ = prior["analysis"].(string)
		if d, ok := prior["declining"].(bool); ok {
			declining = d
		}
	} else {
		if kpi == "" {
			return nil, errors.Wrap(errors.ErrInvalidInput, "nothing to recommend: no kpi or earlier analyze step")
		}
		report, err := a.da.Analyze(ctx, kpi, period)
		if err != nil {
			return nil, err
		}
		findings, notes, declining = report.Findings, report.Narrative, report.Declining
	}

	options, ok := playbook[kpi]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "no playbook for KPI %q", kpi)
	}

	out := orchestration.Payload{
		"kpi":             kpi,
		"recommendations": options,
	}
	if !declining {
		out["recommendations"] = []string{}
		out["note"] = kpi + " is not moving in an unfavourable direction"
		return out, nil
	}

	direction := "below"
	if meta, ok := a.da.kpis.KPI(kpi); ok && !meta.HigherIsBetter {
		direction = "above"
	}

	rationale, err := a.narrator.narrate(ctx, "agents/solution_finder", map[string]any{
		"KPI":       kpi,
		"Direction": direction,
		"Findings":  findings,
		"Analysis":  notes,
		"Options":   options,
	})
	if err != nil {
		return nil, err
	}
	if rationale != "" {
		out["rationale"] = rationale
	}

	a.log.Debugw("Recommendations ready", "kpi", kpi, "options", len(options))
	return out, nil
}
