package siteloader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/repository"
)

// SiteLoader batches site lookups made while validating an upload. A loader
// is bound to one transaction's repository and must not outlive it.
type SiteLoader struct {
	Loader *dataloader.Loader
}

func NewSiteLoader(repo repository.SiteRepository) *SiteLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				for j := range results {
					results[j] = &dataloader.Result{Error: fmt.Errorf("invalid site UUID %q: %w", k.String(), err)}
				}
				return results
			}
			ids[i] = id
		}

		sites, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		siteMap := make(map[uuid.UUID]domain.Site, len(sites))
		for _, s := range sites {
			siteMap[s.UUID] = s
		}

		// Results in key order; a missing site is a nil result, not an error.
		for i, id := range ids {
			if s, ok := siteMap[id]; ok {
				results[i] = &dataloader.Result{Data: s}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &SiteLoader{Loader: loader}
}

// LoadMany resolves ids in one batch. Sites that do not exist are returned in
// missing, in input order.
func (l *SiteLoader) LoadMany(ctx context.Context, ids []uuid.UUID) (found map[uuid.UUID]domain.Site, missing []uuid.UUID, err error) {
	found = make(map[uuid.UUID]domain.Site, len(ids))
	if len(ids) == 0 {
		return found, nil, nil
	}

	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}

	values, errs := l.Loader.LoadMany(ctx, keys)()
	for i, id := range ids {
		if errs != nil && errs[i] != nil {
			return nil, nil, fmt.Errorf("failed to load site %s: %w", id, errs[i])
		}
		site, ok := values[i].(domain.Site)
		if !ok {
			missing = append(missing, id)
			continue
		}
		found[id] = site
	}
	return found, missing, nil
}
