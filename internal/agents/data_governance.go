package agents

import (
	"context"
	"slices"

	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/logger"
)

// DataGovernance translates business vocabulary into KPI names
type DataGovernance struct {
	kpis    *KPIRegistry
	methods orchestration.MethodSet
	log     *logger.Logger
}

// NewDataGovernance creates the agent
func NewDataGovernance(kpis *KPIRegistry) *DataGovernance {
	a := &DataGovernance{kpis: kpis, log: logger.Component("agent." + NameDataGovernance)}
	a.methods = orchestration.MethodSet{
		MethodTranslateTerms: {Handler: a.translateTerms, Validate: validateTerms},
	}
	return a
}

// Methods implements orchestration.Agent
func (a *DataGovernance) Methods() orchestration.MethodSet {
	return a.methods
}

// Translation is the result of mapping terms to KPIs
type Translation struct {
	KPIs    []string          // distinct, in order of first mention
	Mapping map[string]string // term -> KPI
	Unknown []string
}

// Translate maps terms to KPI names
func (a *DataGovernance) Translate(terms []string) Translation {
	t := Translation{Mapping: make(map[string]string, len(terms))}
	for _, term := range terms {
		name, ok := a.kpis.Translate(term)
		if !ok {
			t.Unknown = append(t.Unknown, term)
			continue
		}
		t.Mapping[term] = name
		if !slices.Contains(t.KPIs, name) {
			t.KPIs = append(t.KPIs, name)
		}
	}
	return t
}

func validateTerms(input orchestration.Payload) error {
	terms, err := stringList(input, "terms")
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "terms must not be empty")
	}
	return nil
}

func (a *DataGovernance) translateTerms(ctx context.Context, input orchestration.Payload) (orchestration.Payload, error) {
	terms, err := stringList(input, "terms")
	if err != nil {
		return nil, err
	}

	t := a.Translate(terms)
	if len(t.Unknown) > 0 {
		a.log.Debugw("Unknown business terms", "terms", t.Unknown)
	}

	return orchestration.Payload{
		"kpis":    t.KPIs,
		"mapping": t.Mapping,
		"unknown": t.Unknown,
	}, nil
}
