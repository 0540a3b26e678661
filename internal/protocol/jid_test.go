package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsGroupJID(t *testing.T) {
	assert.True(t, IsGroupJID("120363025246125486@g.us"))
	assert.False(t, IsGroupJID("5511999999999@s.whatsapp.net"))
	assert.False(t, IsGroupJID("g.us"))
}

func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"5511999999999:12@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"5511999999999@c.us", "5511999999999@s.whatsapp.net"},
		{"120363025246125486@g.us", "120363025246125486@g.us"},
		{"no-server", "no-server"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeJID(tc.in))
		})
	}
}

func TestToJID(t *testing.T) {
	assert.Equal(t, "5511999999999@s.whatsapp.net", ToJID("+55 (11) 99999-9999"))
	assert.Equal(t, "120363025246125486@g.us", ToJID("120363025246125486@g.us"))
}

func TestClosed_IsLogout(t *testing.T) {
	assert.True(t, Closed{Reason: CloseLoggedOut}.IsLogout())
	assert.False(t, Closed{Reason: CloseConnectionLost}.IsLogout())
}
