package authz

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultEdgeParallelism = 8

// Reconciler converges an anchor's edge set for one relation to an arbitrary
// desired set of IDs, applying the minimal add/remove delta.
//
// Each edge write is independent: a failure on one edge never blocks the
// others, and the result reports exactly which edges changed rather than
// assuming the whole batch landed. Desired IDs are trusted; validating that
// they reference live entities is the caller's job, and an unknown ID shows
// up as a failed add.
type Reconciler struct {
	repo        GraphRepository
	locks       keyedMutex
	parallelism int
}

// NewReconciler constructs a Reconciler over the given graph store.
func NewReconciler(repo GraphRepository) *Reconciler {
	return &Reconciler{repo: repo, parallelism: defaultEdgeParallelism}
}

// Reconcile diffs the anchor's current edges against desired and applies the
// delta, removals first so a repeated pair converges to present. Calls for
// the same anchor serialize on an in-process lock; the store itself is not
// locked, so writers outside this process can still interleave.
func (r *Reconciler) Reconcile(ctx context.Context, anchor Anchor, rel Relation, desired []int64) (ReconcileResult, error) {
	if rel.AnchorKind() != anchor.Kind {
		return ReconcileResult{}, ErrRelationMismatch
	}

	unlock := r.locks.lock(anchor.Key())
	defer unlock()

	currentIDs, err := r.repo.FindEdges(ctx, rel, anchor)
	if err != nil {
		return ReconcileResult{}, err
	}

	current := toSet(currentIDs)
	target := toSet(desired)

	var toRemove, toAdd, skipped []int64
	for id := range current {
		if _, ok := target[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	for id := range target {
		if _, ok := current[id]; ok {
			skipped = append(skipped, id)
		} else {
			toAdd = append(toAdd, id)
		}
	}

	result := ReconcileResult{Skipped: skipped}

	// Removals land before adds. Edges are distinct so the batch is safe
	// to run concurrently; outcomes are collected under a lock and sorted
	// before return.
	var mu sync.Mutex
	run := func(ids []int64, op EdgeOp) {
		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(r.parallelism)
		for _, id := range ids {
			id := id
			group.Go(func() error {
				err := r.applyEdge(gctx, rel, anchor, id, op)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed = append(result.Failed, EdgeFailure{ID: id, Op: op, Err: err})
					return nil
				}
				if op == EdgeRemove {
					result.Removed = append(result.Removed, id)
				} else {
					result.Added = append(result.Added, id)
				}
				return nil
			})
		}
		_ = group.Wait()
	}
	run(toRemove, EdgeRemove)
	run(toAdd, EdgeAdd)

	result.AllAssigned = append(append([]int64(nil), result.Added...), result.Skipped...)
	sortIDs(result.Removed)
	sortIDs(result.Added)
	sortIDs(result.Skipped)
	sortIDs(result.AllAssigned)
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].ID < result.Failed[j].ID })
	return result, nil
}

func (r *Reconciler) applyEdge(ctx context.Context, rel Relation, anchor Anchor, id int64, op EdgeOp) error {
	if op == EdgeRemove {
		err := r.repo.DeleteEdge(ctx, rel, anchor, id)
		if errors.Is(err, ErrEdgeNotFound) {
			// Already gone, counts as removed.
			return nil
		}
		return err
	}
	err := r.repo.CreateEdge(ctx, rel, anchor, id)
	if errors.Is(err, ErrEdgeExists) {
		// A racing writer got there first; the edge is present either way.
		return nil
	}
	return err
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// keyedMutex serializes callers per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*anchorLock
}

type anchorLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*anchorLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &anchorLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
