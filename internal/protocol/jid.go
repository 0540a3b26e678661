package protocol

import (
	"strings"
)

const (
	UserServer       = "s.whatsapp.net"
	GroupServer      = "g.us"
	legacyUserServer = "c.us"
)

// IsGroupJID reports whether jid addresses a group chat.
func IsGroupJID(jid string) bool {
	_, server, ok := strings.Cut(jid, "@")
	return ok && server == GroupServer
}

// NormalizeJID drops the device suffix of the user part and maps the legacy
// user server, so every device of one account yields the same key.
//
//	5511999999999:12@s.whatsapp.net -> 5511999999999@s.whatsapp.net
func NormalizeJID(jid string) string {
	user, server, ok := strings.Cut(strings.TrimSpace(jid), "@")
	if !ok {
		return jid
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	if server == legacyUserServer {
		server = UserServer
	}
	return user + "@" + server
}

// ToJID turns a phone number or a jid into a normalized jid.
func ToJID(recipient string) string {
	recipient = strings.TrimSpace(recipient)
	if strings.Contains(recipient, "@") {
		return NormalizeJID(recipient)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, recipient)
	return digits + "@" + UserServer
}
