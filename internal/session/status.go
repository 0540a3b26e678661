package session

type Status string

const (
	StatusIdle         Status = "IDLE"
	StatusConnecting   Status = "CONNECTING"
	StatusQRReady      Status = "QR_READY"
	StatusConnected    Status = "CONNECTED"
	StatusReconnecting Status = "RECONNECTING"
	StatusDisconnected Status = "DISCONNECTED"
	StatusLoggedOut    Status = "LOGGED_OUT"
)

// Live reports whether a tracked entry in this status still owns its channel.
// StartSession replaces entries that are not live.
func (s Status) Live() bool {
	switch s {
	case StatusConnecting, StatusQRReady, StatusConnected, StatusReconnecting:
		return true
	}
	return false
}

type Snapshot struct {
	Status  Status `json:"status"`
	QR      string `json:"qr,omitempty"`
	QRImage string `json:"qrImage,omitempty"`
}

type StartResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

type LogoutResult struct {
	Status Status `json:"status"`
}
