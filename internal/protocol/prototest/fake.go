// Package prototest provides an in-memory protocol driver for tests.
package prototest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relaydesk/channel-server/internal/credstore"
	"github.com/relaydesk/channel-server/internal/protocol"
)

type Sent struct {
	To      string
	Message protocol.OutgoingMessage
}

// Socket records everything sent through it. Connection and message events
// are injected with Emit and Deliver.
type Socket struct {
	ChannelID string
	Auth      *credstore.AuthState

	mu           sync.Mutex
	handlers     protocol.Handlers
	sent         []Sent
	seq          int
	sendErr      error
	pictureURL   string
	pictureErr   error
	pictureDelay time.Duration
	loggedOut    bool
	closed       bool
}

func (s *Socket) SendMessage(ctx context.Context, to string, msg protocol.OutgoingMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.seq++
	s.sent = append(s.sent, Sent{To: to, Message: msg})
	return fmt.Sprintf("PROVIDER-%d", s.seq), nil
}

func (s *Socket) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	s.mu.Lock()
	url, err, delay := s.pictureURL, s.pictureErr, s.pictureDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", errors.New("no profile picture")
	}
	return url, nil
}

func (s *Socket) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = true
	return nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Emit invokes the connection handler the socket was dialed with.
func (s *Socket) Emit(ev protocol.ConnectionEvent) {
	s.mu.Lock()
	h := s.handlers.OnConnection
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Deliver invokes the message handler the socket was dialed with.
func (s *Socket) Deliver(msg protocol.InboundMessage) {
	s.mu.Lock()
	h := s.handlers.OnMessage
	s.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (s *Socket) SetSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *Socket) SetProfilePicture(url string, err error, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pictureURL, s.pictureErr, s.pictureDelay = url, err, delay
}

func (s *Socket) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Socket) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// NewSocket returns a socket that is not attached to any dialer.
func NewSocket() *Socket {
	return &Socket{}
}

// Dialer hands out a new Socket per Dial call.
type Dialer struct {
	mu      sync.Mutex
	sockets []*Socket
	dialErr error
	dialed  chan *Socket
}

func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Socket, 64)}
}

func (d *Dialer) Dial(ctx context.Context, params protocol.DialParams) (protocol.Socket, error) {
	d.mu.Lock()
	if d.dialErr != nil {
		err := d.dialErr
		d.mu.Unlock()
		return nil, err
	}
	s := &Socket{ChannelID: params.ChannelID, Auth: params.Auth, handlers: params.Handlers}
	d.sockets = append(d.sockets, s)
	d.mu.Unlock()

	select {
	case d.dialed <- s:
	default:
	}
	return s, nil
}

func (d *Dialer) SetDialError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *Dialer) Sockets() []*Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Socket(nil), d.sockets...)
}

// WaitDial blocks until the next Dial call or the timeout.
func (d *Dialer) WaitDial(timeout time.Duration) (*Socket, bool) {
	select {
	case s := <-d.dialed:
		return s, true
	case <-time.After(timeout):
		return nil, false
	}
}
