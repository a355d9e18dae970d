package agents

import (
	"context"

	"bizagents/internal/adapters/ai"
	"bizagents/internal/orchestration"
	"bizagents/pkg/errors"
	"bizagents/pkg/templates"
)

// Agent names
const (
	NameDataGovernance     = "data_governance"
	NameDataProduct        = "data_product"
	NameSituationAwareness = "situation_awareness"
	NameDeepAnalysis       = "deep_analysis"
	NameSolutionFinder     = "solution_finder"
)

// Method names
const (
	MethodTranslateTerms = "translate_terms"
	MethodLoad           = "load"
	MethodDetect         = "detect"
	MethodAnalyze        = "analyze"
	MethodRecommend      = "recommend"
)

// Deps are the collaborators shared by the business agents
type Deps struct {
	KPIs   *KPIRegistry
	Source KPISource

	// LLM is optional; without it agents return no narratives
	LLM       ai.ChatProvider
	Templates *templates.Registry
}

// Definition is one row of the registration table
type Definition struct {
	Name         string
	Dependencies []string
	Factory      orchestration.Factory
}

// Definitions returns the registration table in dependency order
func Definitions(deps Deps) []Definition {
	role := func(cfg orchestration.Config, def string) narrator {
		return newNarrator(deps.LLM, deps.Templates, cfg.String("role", def))
	}

	return []Definition{
		{
			Name: NameDataGovernance,
			Factory: func(ctx context.Context, cfg orchestration.Config, reg *orchestration.Registry) (orchestration.Agent, error) {
				return NewDataGovernance(deps.KPIs), nil
			},
		},
		{
			Name:         NameDataProduct,
			Dependencies: []string{NameDataGovernance},
			Factory: func(ctx context.Context, cfg orchestration.Config, reg *orchestration.Registry) (orchestration.Agent, error) {
				dg, err := dependency[*DataGovernance](reg, NameDataGovernance)
				if err != nil {
					return nil, err
				}
				return NewDataProduct(deps.Source, deps.KPIs, dg), nil
			},
		},
		{
			Name:         NameSituationAwareness,
			Dependencies: []string{NameDataProduct, NameDataGovernance},
			Factory: func(ctx context.Context, cfg orchestration.Config, reg *orchestration.Registry) (orchestration.Agent, error) {
				dp, err := dependency[*DataProduct](reg, NameDataProduct)
				if err != nil {
					return nil, err
				}
				dg, err := dependency[*DataGovernance](reg, NameDataGovernance)
				if err != nil {
					return nil, err
				}
				return NewSituationAwareness(dp, dg, deps.KPIs, role(cfg, "situation awareness analyst")), nil
			},
		},
		{
			Name:         NameDeepAnalysis,
			Dependencies: []string{NameDataProduct},
			Factory: func(ctx context.Context, cfg orchestration.Config, reg *orchestration.Registry) (orchestration.Agent, error) {
				dp, err := dependency[*DataProduct](reg, NameDataProduct)
				if err != nil {
					return nil, err
				}
				return NewDeepAnalysis(dp, deps.KPIs, role(cfg, "root-cause analyst")), nil
			},
		},
		{
			Name:         NameSolutionFinder,
			Dependencies: []string{NameDeepAnalysis},
			Factory: func(ctx context.Context, cfg orchestration.Config, reg *orchestration.Registry) (orchestration.Agent, error) {
				da, err := dependency[*DeepAnalysis](reg, NameDeepAnalysis)
				if err != nil {
					return nil, err
				}
				return NewSolutionFinder(da, role(cfg, "solution finder")), nil
			},
		},
	}
}

// Register adds every business agent to reg. The caller seals the registry.
func Register(reg *orchestration.Registry, deps Deps) error {
	if deps.KPIs == nil || deps.Source == nil {
		return errors.Wrap(errors.ErrInvalidInput, "KPI registry and source are required")
	}

	for _, def := range Definitions(deps) {
		if err := reg.Register(def.Name, def.Factory, def.Dependencies); err != nil {
			return errors.Wrapf(err, "register %s", def.Name)
		}
	}
	return nil
}

// dependency fetches a Connected dependency with its concrete type
func dependency[T orchestration.Agent](reg *orchestration.Registry, name string) (T, error) {
	var zero T
	ag, ok := reg.Lookup(name)
	if !ok {
		return zero, errors.Wrapf(errors.ErrConstructionFailed, "dependency %s is not connected", name)
	}
	typed, ok := ag.(T)
	if !ok {
		return zero, errors.Wrapf(errors.ErrConstructionFailed, "dependency %s has type %T", name, ag)
	}
	return typed, nil
}
