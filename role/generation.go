package role

import (
	"sync"

	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

// Generation guards the per-dpid master-election generation-id. The
// id is optional until the first successful ROLE_REQUEST with
// Master or Slave sets it.
//
// distance(a, b) = int64(a - b); a new id is accepted whenever no id
// is yet defined, or the new id is not behind the stored one under
// that signed-wraparound distance. Only a defined-and-stale id is
// rejected with OFPRRFC_STALE; this resolves the ambiguity left open
// by the upstream generation-id handling around an undefined id.
type Generation struct {
	mu      sync.Mutex
	id      uint64
	defined bool
}

// distance computes (int64)(a - b), the signed wraparound distance
// OpenFlow 1.3 specifies for generation-id comparisons.
func distance(a, b uint64) int64 {
	return int64(a - b)
}

// Get returns the stored generation-id and whether it is defined.
func (g *Generation) Get() (id uint64, defined bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.id, g.defined
}

// CheckAndSet validates a candidate generation-id against the stored
// one and, if accepted, stores it. Rejection only happens when an id
// is already defined and the candidate is stale.
func (g *Generation) CheckAndSet(id uint64) *ofperror.Error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.defined && distance(id, g.id) < 0 {
		return ofperror.OFP(ofp.ErrTypeRoleRequestFailed,
			ofp.ErrCodeRoleRequestFailedStale, nil)
	}

	g.id = id
	g.defined = true
	return nil
}
