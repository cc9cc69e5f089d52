package harvest

import (
	"context"
	"errors"
	"fmt"

	"tsscraper/pkg/metrics"
	"tsscraper/pkg/models"
)

// ErrReconcileUnsupported is returned when the store cannot prepend items.
var ErrReconcileUnsupported = errors.New("store does not support catch-up")

// Reconcile fetches the newest page and prepends the items published
// since the newest persisted one as a synthetic page 0. It returns the
// number of items prepended. An empty store has nothing to catch up on.
// With MaxItems set, only as many items as the cap still allows are
// prepended, the ones closest to the newest persisted item.
func (h *Harvester) Reconcile(ctx context.Context) (int, error) {
	rec, ok := h.store.(Reconciler)
	if !ok {
		return 0, ErrReconcileUnsupported
	}

	newestID, found, err := rec.NewestID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read newest id: %w", err)
	}
	if !found {
		h.logger.Debug("Store is empty, skipping catch-up")
		return 0, nil
	}

	items, err := h.fetch(ctx, models.NoCursor)
	if err != nil {
		return 0, err
	}

	newer, reached := CollectNewer(items, newestID)
	if !reached && len(items) > 0 {
		h.logger.WarnWithFields("Newest saved status not on the first page, older new statuses may be missing", map[string]interface{}{
			"newest_id": newestID,
			"fetched":   len(items),
		})
	}
	if h.opts.PageFilter != nil {
		newer = h.opts.PageFilter(newer)
	}
	if len(newer) == 0 {
		h.logger.Info("No new statuses since last run")
		return 0, nil
	}

	if h.opts.MaxItems > 0 {
		state, err := h.store.LoadState(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to load state: %w", err)
		}
		budget := h.remaining(state)
		if budget == 0 {
			h.logger.InfoWithFields("Item cap reached, skipping new statuses", map[string]interface{}{
				"max_items": h.opts.MaxItems,
				"new":       len(newer),
			})
			return 0, nil
		}
		// keep the oldest ones so the saved range stays contiguous
		if len(newer) > budget {
			newer = newer[len(newer)-budget:]
		}
	}

	if err := rec.PrependItems(ctx, newer); err != nil {
		return 0, fmt.Errorf("failed to prepend new statuses: %w", err)
	}

	metrics.ReconciledItems.Add(float64(len(newer)))
	h.logger.InfoWithFields("Prepended new statuses", map[string]interface{}{
		"count":     len(newer),
		"newest_id": newer[0].ID,
	})
	return len(newer), nil
}

// CollectNewer returns the items before the one whose id is newestID, in
// order. reached reports whether newestID was found; if not, every item
// is newer.
func CollectNewer(items []models.Item, newestID string) (newer []models.Item, reached bool) {
	for i, item := range items {
		if item.ID == newestID {
			return items[:i:i], true
		}
	}
	return items, false
}
