// Package tally rebuilds the candidate roster and vote counts from the ledger event log.
package tally

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"votechain.org/internal/ledger"
	"votechain.org/internal/obs"
)

// EventSource is the part of the ledger the reconstructor reads.
type EventSource interface {
	Events(ctx context.Context, fromBlock uint64) ([]ledger.Event, error)
}

type Result struct {
	ledger.Candidate
	VoteCount uint64 `json:"voteCount"`
}

// Reconstructor replays the log. It keeps a snapshot and a cursor so later calls only
// fold new events; the snapshot is never authoritative and Invalidate drops it.
type Reconstructor struct {
	source EventSource

	mu       sync.Mutex
	snapshot *snapshot
	gen      uint64
}

type snapshot struct {
	candidates map[uint64]*Result
	// position of the last folded event
	block   uint64
	index   uint
	started bool
}

func New(source EventSource) *Reconstructor {
	return &Reconstructor{source: source}
}

// Invalidate forces the next read to replay from genesis.
func (r *Reconstructor) Invalidate() {
	r.mu.Lock()
	r.snapshot = nil
	r.gen++
	r.mu.Unlock()
}

// Results returns every candidate with its vote count, sorted by id ascending.
func (r *Reconstructor) Results(ctx context.Context) ([]Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.mu.Lock()
		gen := r.gen
		var from uint64
		if r.snapshot != nil {
			from = r.snapshot.block
		}
		r.mu.Unlock()

		// The cursor block is read again; events already folded are skipped.
		events, err := r.source.Events(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("read ledger events: %w", err)
		}

		r.mu.Lock()
		if r.gen != gen {
			// Invalidated while reading; events no longer start at the right place.
			r.mu.Unlock()
			continue
		}
		out := r.foldLocked(events).results()
		r.mu.Unlock()
		return out, nil
	}
}

// Candidates returns the active candidates sorted by id ascending.
func (r *Reconstructor) Candidates(ctx context.Context) ([]ledger.Candidate, error) {
	results, err := r.Results(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Candidate, 0, len(results))
	for _, res := range results {
		if res.Active {
			out = append(out, res.Candidate)
		}
	}
	return out, nil
}

// Rebuild replays the whole log into a fresh snapshot without touching the cached one.
func Rebuild(ctx context.Context, source EventSource) ([]Result, error) {
	return New(source).Results(ctx)
}

func (r *Reconstructor) foldLocked(events []ledger.Event) *snapshot {
	snap := r.snapshot
	if snap == nil {
		snap = &snapshot{candidates: make(map[uint64]*Result)}
		r.snapshot = snap
	}
	for _, ev := range events {
		if snap.started && !ev.After(snap.block, snap.index) {
			continue
		}
		snap.apply(ev)
	}
	return snap
}

func (s *snapshot) results() []Result {
	out := make([]Result, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *snapshot) apply(ev ledger.Event) {
	switch ev.Kind {
	case ledger.EventCandidateAdded:
		if _, ok := s.candidates[ev.Candidate.ID]; !ok {
			s.candidates[ev.Candidate.ID] = &Result{Candidate: ev.Candidate}
		}
	case ledger.EventVoteCast:
		c, ok := s.candidates[ev.CandidateID]
		if !ok {
			obs.Warn("tally_orphan_vote", map[string]any{
				"candidate_id": ev.CandidateID,
				"block":        ev.Block,
				"index":        ev.Index,
			})
			break
		}
		c.VoteCount++
	}
	s.block, s.index, s.started = ev.Block, ev.Index, true
}
