package session

import (
	"github.com/relaydesk/channel-server/internal/protocol"
	"github.com/relaydesk/channel-server/internal/sse"
)

// Effect is a side effect requested by Transition. The manager applies the
// in-memory ones under the registry lock and runs the rest afterwards.
type Effect interface {
	effect()
}

type CacheQR struct {
	Code string
}

type ClearQR struct{}

// DropSocket detaches the socket but keeps the entry and its status.
type DropSocket struct{}

// RemoveEntry forgets the channel entirely.
type RemoveEntry struct{}

type PersistIdentity struct {
	ID string
}

type DeactivateChannel struct{}

type DeleteCredentials struct{}

type ScheduleReconnect struct{}

type Emit struct {
	Type   string
	Fields map[string]any
}

func (CacheQR) effect()           {}
func (ClearQR) effect()           {}
func (DropSocket) effect()        {}
func (RemoveEntry) effect()       {}
func (PersistIdentity) effect()   {}
func (DeactivateChannel) effect() {}
func (DeleteCredentials) effect() {}
func (ScheduleReconnect) effect() {}
func (Emit) effect()              {}

// Transition computes the next status for a connection event.
func Transition(current Status, ev protocol.ConnectionEvent) (Status, []Effect) {
	switch ev := ev.(type) {
	case protocol.QRCode:
		return StatusQRReady, []Effect{
			CacheQR{Code: ev.Code},
			Emit{Type: sse.EventQRReady, Fields: map[string]any{"qr": ev.Code}},
		}

	case protocol.Opened:
		return StatusConnected, []Effect{
			ClearQR{},
			PersistIdentity{ID: ev.ID},
			Emit{Type: sse.EventConnected, Fields: map[string]any{"identifier": ev.ID}},
		}

	case protocol.Closed:
		if ev.IsLogout() {
			return StatusDisconnected, []Effect{
				ClearQR{},
				DropSocket{},
				DeactivateChannel{},
				DeleteCredentials{},
				Emit{Type: sse.EventDisconnected, Fields: map[string]any{"reason": string(ev.Reason)}},
			}
		}
		return StatusReconnecting, []Effect{
			RemoveEntry{},
			Emit{Type: sse.EventReconnecting, Fields: map[string]any{"reason": string(ev.Reason)}},
			ScheduleReconnect{},
		}
	}

	return current, nil
}
