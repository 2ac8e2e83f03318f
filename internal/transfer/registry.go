package transfer

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Registry keeps runs addressable by id. Running operations never expire;
// finished ones stay for the retention period.
type Registry struct {
	cache *ttlcache.Cache[string, *Operation]
}

func NewRegistry(retention time.Duration) *Registry {
	cache := ttlcache.New[string, *Operation](
		ttlcache.WithTTL[string, *Operation](retention),
		ttlcache.WithDisableTouchOnHit[string, *Operation](),
	)
	go cache.Start()

	return &Registry{cache: cache}
}

// Track registers op and starts its retention clock once it finishes.
func (r *Registry) Track(op *Operation) {
	r.cache.Set(op.ID(), op, ttlcache.NoTTL)
	go func() {
		<-op.Done()
		r.cache.Set(op.ID(), op, ttlcache.DefaultTTL)
	}()
}

func (r *Registry) Get(id string) (*Operation, bool) {
	item := r.cache.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (r *Registry) Len() int {
	return r.cache.Len()
}

func (r *Registry) Stop() {
	r.cache.Stop()
}
