// Package timeline implements the per-user cursor cache: an ordered
// buffer of statuses grown at either end from the upstream source, and a
// cursor that moves through it by arbitrary deltas.
package timeline

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/mattkenney/soc/pkg/soc"
)

// FetchPageSize is how many items a boundary-growth fetch asks for.
const FetchPageSize = 200

// Sentinel deltas for the two jump commands. JumpOldest walks to the
// oldest cached item (and one past it, forcing growth at the old edge);
// JumpNewest walks back to the newest item (and one before index 0,
// forcing a refresh against the newest edge).
const (
	JumpOldest = math.MaxInt
	JumpNewest = math.MinInt
)

// ErrEmpty is returned when the buffer has no items even after a growth
// attempt. Callers render an unchanged view.
var ErrEmpty = errors.New("timeline: no items available")

// ErrNotFound is returned when a direct id lookup yields nothing. Callers
// must treat it as a no-op.
var ErrNotFound = errors.New("timeline: status not found")

// Source is the upstream timeline API. HomeTimeline returns items newest
// first; sinceID and maxID are the API's inclusive paging bounds, zero
// when unset.
type Source interface {
	HomeTimeline(ctx context.Context, count int, sinceID, maxID int64) ([]*soc.Status, error)
	Show(ctx context.Context, id string) (*soc.Status, error)
}

// Store is the slice of the shared store the engine needs.
type Store interface {
	Timeline(ctx context.Context, uid string) ([]*soc.Status, error)
	SaveTimeline(ctx context.Context, uid string, items []*soc.Status) error
	CursorIndex(ctx context.Context, uid string) (int, error)
	SetCursorIndex(ctx context.Context, uid string, index int) error
	CursorID(ctx context.Context, uid string) (string, error)
	SetCursorID(ctx context.Context, uid string, id string) error
}

// Resolver follows a link to its final redirect target and page title.
type Resolver interface {
	Resolve(ctx context.Context, url string) (finalURL, title string, err error)
}

// Engine resolves cursor moves against the cached buffer.
type Engine struct {
	source   Source
	store    Store
	resolver Resolver
	logger   *slog.Logger
}

// New creates a cursor engine. Engines are cheap; one is built per
// request around the session's upstream credentials.
func New(source Source, store Store, resolver Resolver, logger *slog.Logger) *Engine {
	return &Engine{
		source:   source,
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// Navigate applies delta to the user's cursor and returns the newly
// selected status plus the persisted cursor index.
//
// currentID is the id the caller believes is selected right now. When it
// does not match the id recorded on the last navigation, the delta is
// ignored and the request degrades to a refresh of the current position,
// so a stale command replayed after the cursor already moved cannot jump
// twice.
//
// Upstream fetch failures during boundary growth are logged and treated
// as zero new items; the cursor clamps at the edge instead of failing.
func (e *Engine) Navigate(ctx context.Context, uid string, delta int, currentID string) (*soc.Status, int, error) {
	items, err := e.store.Timeline(ctx, uid)
	if err != nil {
		return nil, 0, err
	}
	count := len(items)

	index, err := e.store.CursorIndex(ctx, uid)
	if err != nil {
		return nil, 0, err
	}

	if delta != 0 {
		lastID, err := e.store.CursorID(ctx, uid)
		if err != nil {
			e.logger.Warn("Cursor id read failed, treating navigation as stale", "uid", uid, "error", err)
			lastID = ""
		}
		if currentID != lastID {
			e.logger.Info("Stale navigation ignored",
				"uid", uid,
				"delta", delta,
				"request_id", currentID,
				"cursor_id", lastID)
		} else {
			switch delta {
			case JumpOldest:
				if index < count-1 {
					index = count - 1
				} else {
					index = count
				}
			case JumpNewest:
				if index > 0 {
					index = 0
				} else {
					index = -1
				}
			default:
				index += delta
			}
		}
	}

	switch {
	case index < 0:
		// Newest edge. Re-request the newest cached item itself (sinceID
		// is one below its id) so a mismatch can reveal missed items;
		// the fresh page replaces the buffer wholesale.
		var fresh []*soc.Status
		if count == 0 {
			fresh = e.fetch(ctx, 0, 0)
		} else {
			fresh = e.fetch(ctx, items[0].ID-1, 0)
		}
		if len(fresh) > 0 {
			items = fresh
			if err := e.store.SaveTimeline(ctx, uid, items); err != nil {
				return nil, 0, err
			}
			count = len(items)
			index += count - 1
		}
	case index >= count:
		// Oldest edge. Growth only, no replacement.
		var fresh []*soc.Status
		if count == 0 {
			fresh = e.fetch(ctx, 0, 0)
		} else {
			fresh = e.fetch(ctx, 0, items[count-1].ID-1)
		}
		if len(fresh) > 0 {
			items = append(items, fresh...)
			if err := e.store.SaveTimeline(ctx, uid, items); err != nil {
				return nil, 0, err
			}
			count = len(items)
		}
	}

	// The stored index may sit one past the oldest item when growth came
	// up empty; the next walk off that edge retries the fetch.
	if index > count {
		index = count
	}
	if index < 0 {
		index = 0
	}
	if err := e.store.SetCursorIndex(ctx, uid, index); err != nil {
		return nil, 0, err
	}

	if count == 0 {
		return nil, index, ErrEmpty
	}

	sel := index
	if sel >= count {
		sel = count - 1
	}
	item := items[sel]
	if err := e.store.SetCursorID(ctx, uid, item.IDStr); err != nil {
		return nil, 0, err
	}
	return item, index, nil
}

// LookupByID fetches a single status directly from upstream, bypassing
// the buffer. The cursor's remembered id is updated so a later relative
// navigation against this view is not mistaken for a replay; the index
// and buffer stay untouched. When followURL is given, matching link
// entities on the status are resolved to their final target and title
// before returning.
func (e *Engine) LookupByID(ctx context.Context, uid, id, followURL string) (*soc.Status, error) {
	status, err := e.source.Show(ctx, id)
	if err != nil {
		e.logger.Warn("Status lookup failed", "uid", uid, "id", id, "error", err)
		return nil, ErrNotFound
	}

	if err := e.store.SetCursorID(ctx, uid, status.IDStr); err != nil {
		e.logger.Warn("Cursor id update failed after lookup", "uid", uid, "id", id, "error", err)
	}

	if followURL != "" {
		e.follow(ctx, status, followURL)
	}
	return status, nil
}

// follow resolves every link entity whose expanded target equals
// followURL. Resolution failures are swallowed per entity and surface as
// a placeholder title.
func (e *Engine) follow(ctx context.Context, status *soc.Status, followURL string) {
	s := status.Original()
	for _, u := range s.Entities.URLs {
		if u.ExpandedURL != followURL {
			continue
		}
		final, title, err := e.resolver.Resolve(ctx, followURL)
		if err != nil {
			e.logger.Warn("Link resolution failed", "url", followURL, "error", err)
			u.Title = "?"
			continue
		}
		u.ExpandedURL = final
		if title == "" {
			title = "?"
		}
		u.Title = title
	}
}

func (e *Engine) fetch(ctx context.Context, sinceID, maxID int64) []*soc.Status {
	items, err := e.source.HomeTimeline(ctx, FetchPageSize, sinceID, maxID)
	if err != nil {
		e.logger.Warn("Home timeline fetch failed",
			"since_id", sinceID,
			"max_id", maxID,
			"error", err)
		return nil
	}
	return items
}
