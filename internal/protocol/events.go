package protocol

// ConnectionEvent is one of QRCode, Opened or Closed.
type ConnectionEvent interface {
	connectionEvent()
}

// QRCode carries a fresh pairing code to render for the operator.
type QRCode struct {
	Code string
}

// Opened reports an authenticated connection. ID is the account identifier
// the channel is logged in as.
type Opened struct {
	ID string
}

// Closed reports the connection went away.
type Closed struct {
	Reason CloseReason
	Err    error
}

func (QRCode) connectionEvent() {}
func (Opened) connectionEvent() {}
func (Closed) connectionEvent() {}

type CloseReason string

const (
	CloseLoggedOut          CloseReason = "logged_out"
	CloseConnectionLost     CloseReason = "connection_lost"
	CloseConnectionReplaced CloseReason = "connection_replaced"
	CloseRestartRequired    CloseReason = "restart_required"
	CloseTimedOut           CloseReason = "timed_out"
	CloseBadSession         CloseReason = "bad_session"
	CloseUnknown            CloseReason = "unknown"
)

// IsLogout reports whether the remote side revoked the session. Any other
// close is transient.
func (c Closed) IsLogout() bool {
	return c.Reason == CloseLoggedOut
}
