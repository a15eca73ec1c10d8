package service

import (
	"context"
	"time"

	"github.com/shiva/sosdispatch/internal/model"
	"github.com/shiva/sosdispatch/internal/repository"
)

// FeedService builds the dashboard view clients poll.
//
// Every call reads one store snapshot, which only ever holds committed
// claims and releases. There is no cache: a cancellation that has returned
// to its caller is visible on the very next poll.
type FeedService struct {
	store repository.Store
	dir   repository.ReporterDirectory
	now   func() time.Time
}

func NewFeedService(store repository.Store, dir repository.ReporterDirectory) *FeedService {
	return &FeedService{store: store, dir: dir, now: time.Now}
}

// Snapshot returns the feed as p may see it.
//
//   - Responders: every pending and assigned case, every unit, and unit
//     counts per status.
//   - Anyone else: only their own pending and assigned cases, and only the
//     units currently bound to those cases.
func (f *FeedService) Snapshot(ctx context.Context, p model.Principal) (*model.FeedView, error) {
	filter := model.CaseFilter{Statuses: model.ActiveCaseStatuses}
	responder := p.Role.IsResponder()
	if !responder {
		filter.ReporterID = p.ID
	}

	snap, err := f.store.Snapshot(ctx, filter)
	if err != nil {
		return nil, classifyError(err)
	}

	units := indexUnits(snap.Units)
	views := joinCases(ctx, f.dir, snap.Cases, units)

	feed := &model.FeedView{
		GeneratedAt: f.now().UTC(),
		Role:        p.Role,
		Pending:     []model.CaseView{},
		Active:      []model.CaseView{},
		Units:       []model.Unit{},
	}
	for _, v := range views {
		switch v.Status {
		case model.CasePending:
			feed.Pending = append(feed.Pending, v)
		case model.CaseAssigned:
			feed.Active = append(feed.Active, v)
		}
	}

	if responder {
		feed.Units = snap.Units
		feed.UnitCounts = make(map[model.UnitStatus]int, len(model.AllUnitStatuses))
		for _, st := range model.AllUnitStatuses {
			feed.UnitCounts[st] = 0
		}
		for _, u := range snap.Units {
			feed.UnitCounts[u.Status]++
		}
		return feed, nil
	}

	for _, v := range feed.Active {
		if u, ok := units[v.AssignedUnitID]; ok {
			feed.Units = append(feed.Units, *u)
		}
	}
	return feed, nil
}
