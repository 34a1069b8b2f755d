package sensorthings

import (
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
)

// State is a step in the synchronization of a single entity
type State int

const (
	Unvalidated State = iota
	Validated
	Found
	NotFound
	Patched
	Created
	Synced
	Rejected
)

func (s State) String() string {
	switch s {
	case Unvalidated:
		return "unvalidated"
	case Validated:
		return "validated"
	case Found:
		return "found"
	case NotFound:
		return "not-found"
	case Patched:
		return "patched"
	case Created:
		return "created"
	case Synced:
		return "synced"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

type PutResult struct {
	Kind    types.Kind
	Name    string
	ID      int64
	State   State
	History []State
	DryRun  bool
}

func NewPutResult(kind types.Kind, name string, dryRun bool) *PutResult {
	return &PutResult{
		Kind:    kind,
		Name:    name,
		State:   Unvalidated,
		History: []State{Unvalidated},
		DryRun:  dryRun,
	}
}

// Transition moves the result to the next state and records it
func (r *PutResult) Transition(s State) {
	r.State = s
	r.History = append(r.History, s)
}

func (r PutResult) Created() bool {
	return r.visited(Created)
}

func (r PutResult) Patched() bool {
	return r.visited(Patched)
}

func (r PutResult) Synced() bool {
	return r.State == Synced
}

func (r PutResult) visited(s State) bool {
	for _, h := range r.History {
		if h == s {
			return true
		}
	}
	return false
}

type CreateObservationsResult struct {
	DatastreamID int64
	Chunks       int
	Observations int
	Created      int
	RowErrors    int
	Failed       []errors.ChunkError
	DryRun       bool
}

func NewCreateObservationsResult(datastreamID int64, dryRun bool) *CreateObservationsResult {
	return &CreateObservationsResult{
		DatastreamID: datastreamID,
		Failed:       []errors.ChunkError{},
		DryRun:       dryRun,
	}
}

// FailedChunks returns the indices of the chunks that could not be created
func (r CreateObservationsResult) FailedChunks() []int {
	indices := make([]int, 0, len(r.Failed))
	for _, c := range r.Failed {
		indices = append(indices, c.Index)
	}
	return indices
}

func (r CreateObservationsResult) IsPartialFailure() bool {
	return len(r.Failed) > 0
}
