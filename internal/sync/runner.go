package sync

import (
	"context"
	"log"

	"github.com/marketbridge/apsis-sync/internal/logging"
	"github.com/marketbridge/apsis-sync/internal/store"
)

// Runner drives one full sync pass: for every store, stage new batches, run
// the import state machine, then flush events. A store that fails never
// blocks the stores after it.
type Runner struct {
	stores      *store.StoreStore
	batcher     *Batcher
	coordinator *Coordinator
	poster      *EventPoster
}

// NewRunner wires a Runner.
func NewRunner(stores *store.StoreStore, batcher *Batcher, coordinator *Coordinator, poster *EventPoster) *Runner {
	return &Runner{
		stores:      stores,
		batcher:     batcher,
		coordinator: coordinator,
		poster:      poster,
	}
}

// RunAll executes one pass over all stores. Each pass gets its own cycle id
// so overlapping passes are distinguishable in the log.
func (r *Runner) RunAll(ctx context.Context) {
	ctx = logging.WithCycleID(ctx, logging.GenerateCycleID())

	stores, err := r.stores.List()
	if err != nil {
		log.Printf("⚠️ %sUnable to list stores: %v", logging.Tag(ctx), err)
		return
	}

	for _, st := range stores {
		if ctx.Err() != nil {
			return
		}
		r.batcher.BatchCustomers(ctx, st)
		r.batcher.BatchSubscribers(ctx, st)
		r.coordinator.RunCycle(ctx, st)
		r.poster.PostPending(ctx, st)
	}
}
