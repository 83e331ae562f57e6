package missions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jobmate/missions-service/internal/catalog"
)

// Initializer builds or reconciles the day's mission list from the catalog
// and the persisted document.
type Initializer struct {
	store      Store
	catalog    *catalog.Catalog
	interviews InterviewSource
	now        func() time.Time
}

// NewInitializer returns an Initializer over the given collaborators.
func NewInitializer(store Store, cat *catalog.Catalog, interviews InterviewSource) *Initializer {
	return &Initializer{store: store, catalog: cat, interviews: interviews, now: time.Now}
}

// Ensure returns the mission document for (userID, day), creating or
// reconciling it as needed.
//
// Visibility rules are evaluated exactly once per call. An existing
// non-empty document gets its denormalized display fields refreshed from
// the current catalog and its mission set reconciled against current
// visibility — Current and Status are never touched by this pass. A second
// call with no external state change performs no write.
func (i *Initializer) Ensure(ctx context.Context, userID, day string) (*DailyMissions, error) {
	in := i.visibilityInput(ctx, userID, day)

	existing, err := i.store.GetDaily(ctx, userID, day)
	switch {
	case errors.Is(err, ErrNotFound):
		return i.create(ctx, userID, day, in)
	case err != nil:
		return nil, fmt.Errorf("load missions for %s: %w", day, err)
	}

	if len(existing.Missions) == 0 {
		// A document shell without missions is treated like a fresh day.
		return i.store.UpdateDaily(ctx, userID, day, func(d *DailyMissions) (bool, error) {
			d.Missions = i.synthesize(day, in)
			d.Recount()
			return true, nil
		})
	}

	return i.store.UpdateDaily(ctx, userID, day, func(d *DailyMissions) (bool, error) {
		return i.reconcile(d, day, in), nil
	})
}

// DefaultSet returns an in-memory mission document built from the catalog
// with the most restrictive visibility. Used as the degraded fallback when
// initialization fails, so callers always have a usable mission list.
func (i *Initializer) DefaultSet(userID, day string) *DailyMissions {
	now := i.now()
	doc := &DailyMissions{
		UserID:    userID,
		Date:      day,
		Missions:  i.synthesize(day, catalog.VisibilityInput{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.Recount()
	return doc
}

// visibilityInput gathers the facts visibility rules consult. A probe
// failure degrades to the most restrictive input rather than failing the
// whole Ensure pass.
func (i *Initializer) visibilityInput(ctx context.Context, userID, day string) catalog.VisibilityInput {
	upcoming, err := i.interviews.HasUpcomingInterview(ctx, userID, day)
	if err != nil {
		slog.Warn("visibility probe failed, defaulting to restrictive", "userId", userID, "err", err)
		return catalog.VisibilityInput{}
	}
	return catalog.VisibilityInput{HasUpcomingInterview: upcoming}
}

func (i *Initializer) create(ctx context.Context, userID, day string, in catalog.VisibilityInput) (*DailyMissions, error) {
	now := i.now()
	doc := &DailyMissions{
		UserID:    userID,
		Date:      day,
		Missions:  i.synthesize(day, in),
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.Recount()

	if err := i.store.PutDaily(ctx, doc); err != nil {
		return nil, fmt.Errorf("create missions for %s: %w", day, err)
	}
	return doc, nil
}

// synthesize builds fresh missions from the catalog filtered by visibility.
func (i *Initializer) synthesize(day string, in catalog.VisibilityInput) []Mission {
	var missions []Mission
	for _, t := range i.catalog.VisibleTypes(in) {
		cfg, _ := i.catalog.Get(t)
		missions = append(missions, newMission(day, cfg))
	}
	return missions
}

// reconcile brings an existing mission list in line with the current
// catalog and visibility, reporting whether anything changed.
func (i *Initializer) reconcile(d *DailyMissions, day string, in catalog.VisibilityInput) bool {
	changed := false

	// Refresh denormalized display fields for types still in the catalog.
	// Target, Current and Status are deliberately untouched: changing the
	// target mid-day could flip completion state retroactively.
	for idx := range d.Missions {
		m := &d.Missions[idx]
		cfg, ok := i.catalog.Get(m.Type)
		if !ok {
			continue
		}
		if m.Title != cfg.Title {
			m.Title = cfg.Title
			changed = true
		}
		if m.Description != cfg.Description {
			m.Description = cfg.Description
			changed = true
		}
		if m.RewardPoints != cfg.RewardPoints {
			m.RewardPoints = cfg.RewardPoints
			changed = true
		}
	}

	visible := make(map[catalog.Type]bool)
	for _, t := range i.catalog.VisibleTypes(in) {
		visible[t] = true
	}

	// Drop missions whose type is in the catalog but no longer visible.
	// Types unknown to the catalog are left alone.
	kept := d.Missions[:0]
	for _, m := range d.Missions {
		if _, inCatalog := i.catalog.Get(m.Type); inCatalog && !visible[m.Type] {
			changed = true
			continue
		}
		kept = append(kept, m)
	}
	d.Missions = kept

	// Append fresh missions for newly visible types.
	for _, t := range i.catalog.VisibleTypes(in) {
		if d.FindType(t) != nil {
			continue
		}
		cfg, _ := i.catalog.Get(t)
		d.Missions = append(d.Missions, newMission(day, cfg))
		changed = true
	}

	if changed {
		d.Recount()
	}
	return changed
}

func newMission(day string, cfg catalog.Config) Mission {
	return Mission{
		ID:           MissionID(day, cfg.Type),
		Type:         cfg.Type,
		Title:        cfg.Title,
		Description:  cfg.Description,
		RewardPoints: cfg.RewardPoints,
		Target:       cfg.Target,
		Current:      0,
		Status:       StatusActive,
	}
}
