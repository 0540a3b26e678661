package protocol

import (
	"sort"
	"sync"

	"github.com/relaydesk/channel-server/internal/model"
)

// Registry maps protocol types to their dialers.
type Registry struct {
	mu      sync.RWMutex
	dialers map[model.ProtocolType]Dialer
}

func NewRegistry() *Registry {
	return &Registry{dialers: make(map[model.ProtocolType]Dialer)}
}

func (r *Registry) Register(protocolType model.ProtocolType, dialer Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[protocolType] = dialer
}

func (r *Registry) Lookup(protocolType model.ProtocolType) (Dialer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dialers[protocolType]
	return d, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.dialers))
	for t := range r.dialers {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return types
}

var drivers = NewRegistry()

// Register makes a driver available to the server. Driver packages call it
// from init, the way database/sql drivers do.
func Register(protocolType model.ProtocolType, dialer Dialer) {
	drivers.Register(protocolType, dialer)
}

// Drivers returns the registry populated by Register.
func Drivers() *Registry {
	return drivers
}
