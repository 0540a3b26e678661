package session

import (
	"sync"

	"github.com/relaydesk/channel-server/internal/protocol"
)

type entry struct {
	tenantID   string
	socket     protocol.Socket
	status     Status
	qr         string
	qrImage    string
	generation uint64
}

// registry holds one entry per channel. Every mutation happens under mu and
// is tagged with a generation so callbacks from a replaced socket are
// recognised and dropped.
type registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextGen uint64
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

// claim installs a CONNECTING entry unless a live one exists. It returns the
// generation and status of whichever entry owns the channel afterwards.
func (r *registry) claim(channelID, tenantID string) (uint64, Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[channelID]; ok && e.status.Live() {
		return e.generation, e.status, false
	}

	r.nextGen++
	r.entries[channelID] = &entry{
		tenantID:   tenantID,
		status:     StatusConnecting,
		generation: r.nextGen,
	}
	return r.nextGen, StatusConnecting, true
}

// attach stores the dialed socket. False means the claim was superseded and
// the caller owns the socket.
func (r *registry) attach(channelID string, gen uint64, socket protocol.Socket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[channelID]
	if !ok || e.generation != gen {
		return false
	}
	e.socket = socket
	return true
}

// update runs fn on the entry of generation gen. The entry is deleted when
// fn returns false. update reports whether the entry was found.
func (r *registry) update(channelID string, gen uint64, fn func(e *entry) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[channelID]
	if !ok || e.generation != gen {
		return false
	}
	if !fn(e) {
		delete(r.entries, channelID)
	}
	return true
}

// remove deletes the entry regardless of generation and hands back its socket.
func (r *registry) remove(channelID string) protocol.Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[channelID]
	if !ok {
		return nil
	}
	delete(r.entries, channelID)
	return e.socket
}

func (r *registry) snapshot(channelID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[channelID]
	if !ok {
		return Snapshot{Status: StatusIdle}
	}
	return Snapshot{Status: e.status, QR: e.qr, QRImage: e.qrImage}
}

func (r *registry) liveSocket(channelID string) (protocol.Socket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[channelID]
	if !ok || e.status != StatusConnected || e.socket == nil {
		return nil, false
	}
	return e.socket, true
}

// tracked returns the ids of channels that currently have an entry.
func (r *registry) tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// drain empties the registry and returns every socket it held.
func (r *registry) drain() []protocol.Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	sockets := make([]protocol.Socket, 0, len(r.entries))
	for id, e := range r.entries {
		if e.socket != nil {
			sockets = append(sockets, e.socket)
		}
		delete(r.entries, id)
	}
	return sockets
}
