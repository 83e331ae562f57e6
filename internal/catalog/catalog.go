// Package catalog defines the static daily-mission catalog.
//
// Each mission type maps to exactly one Config describing the display
// fields, the numeric target and an optional visibility rule. The catalog
// is read-only deployment configuration — user sessions never mutate it.
package catalog

import "fmt"

// Type identifies a mission kind. Values mirror the mission_type strings
// stored inside daily_missions documents.
type Type string

const (
	TypeApplyJobs        Type = "apply_jobs"
	TypePrepareInterview Type = "prepare_interview"
)

// VisibilityInput carries the per-user facts visibility rules may consult.
// It is gathered once per Ensure pass so every rule sees the same data.
type VisibilityInput struct {
	// HasUpcomingInterview is true when the user has at least one interview
	// scheduled today or later.
	HasUpcomingInterview bool
}

// Config is the immutable definition of one mission type.
type Config struct {
	Type         Type
	Title        string
	Description  string
	Target       int // required count to complete, always >= 1
	RewardPoints int

	// Visible decides whether the type is included in a day's mission set.
	// A nil Visible means the type is always included.
	Visible func(in VisibilityInput) bool
}

// Catalog is an ordered, read-only lookup of mission configs.
type Catalog struct {
	configs []Config
	byType  map[Type]Config
}

// New builds a Catalog from the given configs, preserving order.
// It rejects duplicate types and targets below 1.
func New(configs ...Config) (*Catalog, error) {
	byType := make(map[Type]Config, len(configs))
	for _, c := range configs {
		if c.Type == "" {
			return nil, fmt.Errorf("catalog: config with empty type")
		}
		if c.Target < 1 {
			return nil, fmt.Errorf("catalog: %s target must be >= 1, got %d", c.Type, c.Target)
		}
		if _, dup := byType[c.Type]; dup {
			return nil, fmt.Errorf("catalog: duplicate config for type %s", c.Type)
		}
		byType[c.Type] = c
	}
	return &Catalog{configs: configs, byType: byType}, nil
}

// Get returns the config for t, reporting whether the type exists.
func (c *Catalog) Get(t Type) (Config, bool) {
	cfg, ok := c.byType[t]
	return cfg, ok
}

// All returns the configs in catalog order. Callers must not modify the slice.
func (c *Catalog) All() []Config {
	return c.configs
}

// VisibleTypes returns, in catalog order, every type whose visibility rule
// accepts in (types without a rule are always visible).
func (c *Catalog) VisibleTypes(in VisibilityInput) []Type {
	types := make([]Type, 0, len(c.configs))
	for _, cfg := range c.configs {
		if cfg.Visible == nil || cfg.Visible(in) {
			types = append(types, cfg.Type)
		}
	}
	return types
}

// DefaultTargets holds the configurable targets for the production catalog.
type DefaultTargets struct {
	ApplyJobs int
}

// Default returns the production catalog: apply_jobs is always visible,
// prepare_interview only when an interview is scheduled today or later.
func Default(t DefaultTargets) *Catalog {
	applyTarget := t.ApplyJobs
	if applyTarget < 1 {
		applyTarget = 3
	}

	c, err := New(
		Config{
			Type:         TypeApplyJobs,
			Title:        "Apply to jobs",
			Description:  "Move applications to APPLIED today",
			Target:       applyTarget,
			RewardPoints: 50,
		},
		Config{
			Type:         TypePrepareInterview,
			Title:        "Prepare your interview",
			Description:  "Complete the preparation checklist for an upcoming interview",
			Target:       1,
			RewardPoints: 100,
			Visible: func(in VisibilityInput) bool {
				return in.HasUpcomingInterview
			},
		},
	)
	if err != nil {
		// Default is built from constants — a failure here is a programming error.
		panic(err)
	}
	return c
}
