package params

import (
	"sync"
	"sync/atomic"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Repository holds the current QuotingParameters snapshot and broadcasts
// every new version to its subscribers.
type Repository struct {
	mu   sync.Mutex
	cur  atomic.Value // QuotingParameters
	subs []func(QuotingParameters)
}

// NewRepository validates initial and makes it the current snapshot.
func NewRepository(initial QuotingParameters) (*Repository, error) {
	if err := initial.Validate(); err != nil {
		return nil, errors.Wrap(err, "initial parameters")
	}
	if initial.Version == 0 {
		initial.Version = 1
	}

	r := &Repository{}
	r.cur.Store(initial)
	return r, nil
}

// Latest returns the current snapshot.
func (r *Repository) Latest() QuotingParameters {
	return r.cur.Load().(QuotingParameters)
}

// OnChange registers fn to receive every accepted snapshot, in version order.
func (r *Repository) OnChange(fn func(QuotingParameters)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Apply patches the current snapshot by json field name and publishes the result.
func (r *Repository) Apply(patch map[string]any) (QuotingParameters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.Latest()
	next, err := cur.Patch(patch)
	if err != nil {
		return cur, err
	}
	return r.commit(cur, next)
}

// Replace publishes p as the next version, ignoring its own Version field.
func (r *Repository) Replace(p QuotingParameters) (QuotingParameters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commit(r.Latest(), p)
}

func (r *Repository) commit(cur, next QuotingParameters) (QuotingParameters, error) {
	if err := next.Validate(); err != nil {
		return cur, err
	}

	next.Version = cur.Version + 1
	r.cur.Store(next)
	logs.Infof("quoting parameters updated, version: %d, mode: %s", next.Version, next.Mode)

	for _, fn := range r.subs {
		fn(next)
	}

	return next, nil
}
