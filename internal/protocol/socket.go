package protocol

import (
	"context"

	"github.com/relaydesk/channel-server/internal/credstore"
)

// Socket is one live protocol connection.
type Socket interface {
	// SendMessage delivers msg to the jid and returns the provider-assigned
	// message id, or "" when the protocol assigns none.
	SendMessage(ctx context.Context, to string, msg OutgoingMessage) (string, error)
	ProfilePictureURL(ctx context.Context, jid string) (string, error)
	Logout(ctx context.Context) error
	Close() error
}

// Handlers receive socket callbacks. They run on the driver's goroutines and
// must not block.
type Handlers struct {
	OnConnection func(ConnectionEvent)
	OnMessage    func(InboundMessage)
}

type DialParams struct {
	ChannelID string
	Auth      *credstore.AuthState
	Handlers  Handlers
}

// Dialer opens sockets for one protocol type. Dial returns once the socket
// exists; connection progress is reported through Handlers.OnConnection.
type Dialer interface {
	Dial(ctx context.Context, params DialParams) (Socket, error)
}
