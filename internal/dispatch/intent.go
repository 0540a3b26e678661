// Package dispatch sends outbound messages through live protocol sockets.
package dispatch

import (
	"strings"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"

	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/model"
)

// Intent is what the caller wants delivered. The set of implementations is
// closed by the unexported intent method: Text, Media, Location, ContactCard
// and Reaction.
type Intent interface {
	Type() model.MessageType
	Validate() error
	intent()
}

type Text struct {
	Body string
}

// Media references a file already held by the storage service.
type Media struct {
	Kind     model.MessageType
	MediaID  string
	Caption  string
	FileName string
}

type Location struct {
	Latitude  *float64
	Longitude *float64
	Name      string
	Address   string
}

type ContactCard struct {
	DisplayName string
	VCard       string
}

// Reaction attaches an emoji to an already delivered message.
type Reaction struct {
	TargetProviderID string
	TargetFromMe     bool
	Emoji            string
}

func (Text) Type() model.MessageType        { return model.MessageTypeText }
func (m Media) Type() model.MessageType     { return m.Kind }
func (Location) Type() model.MessageType    { return model.MessageTypeLocation }
func (ContactCard) Type() model.MessageType { return model.MessageTypeContact }
func (Reaction) Type() model.MessageType    { return model.MessageTypeReaction }

func (Text) intent()        {}
func (Media) intent()       {}
func (Location) intent()    {}
func (ContactCard) intent() {}
func (Reaction) intent()    {}

func (t Text) Validate() error {
	if strings.TrimSpace(t.Body) == "" {
		return apperrors.MissingRequired("text")
	}
	return nil
}

func (m Media) Validate() error {
	if !m.Kind.IsMedia() {
		return apperrors.InvalidInput("type", "not a media type")
	}
	if strings.TrimSpace(m.MediaID) == "" {
		return apperrors.MissingRequired("mediaId")
	}
	return nil
}

func (l Location) Validate() error {
	if l.Latitude == nil || l.Longitude == nil {
		return apperrors.MissingRequired("latitude and longitude")
	}
	if *l.Latitude < -90 || *l.Latitude > 90 {
		return apperrors.InvalidInput("latitude", "must be between -90 and 90")
	}
	if *l.Longitude < -180 || *l.Longitude > 180 {
		return apperrors.InvalidInput("longitude", "must be between -180 and 180")
	}
	return nil
}

func (c ContactCard) Validate() error {
	vcard := strings.TrimSpace(c.VCard)
	if vcard == "" {
		return apperrors.MissingRequired("vcard")
	}
	upper := strings.ToUpper(vcard)
	if !strings.HasPrefix(upper, "BEGIN:VCARD") || !strings.HasSuffix(upper, "END:VCARD") {
		return apperrors.InvalidInput("vcard", "must start with BEGIN:VCARD and end with END:VCARD")
	}
	return nil
}

func (r Reaction) Validate() error {
	if strings.TrimSpace(r.TargetProviderID) == "" {
		return apperrors.MissingRequired("reaction target")
	}
	if r.Emoji == "" {
		return apperrors.MissingRequired("emoji")
	}
	if !gomoji.ContainsEmoji(r.Emoji) || uniseg.GraphemeClusterCount(r.Emoji) != 1 {
		return apperrors.InvalidInput("emoji", "must be a single emoji")
	}
	return nil
}

// displayName extracts FN from a vCard, for cards sent without a name.
func displayName(vcard string) string {
	for _, line := range strings.Split(strings.ReplaceAll(vcard, "\r\n", "\n"), "\n") {
		if name, ok := strings.CutPrefix(line, "FN:"); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}
