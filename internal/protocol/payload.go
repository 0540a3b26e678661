package protocol

// Payload is the body of an outgoing message. The set of implementations is
// closed: Text, Image, Video, Audio, Document, Sticker, Location, ContactCard
// and Reaction.
type Payload interface {
	payload()
}

type Text struct {
	Body string
}

type Image struct {
	URL      string
	MimeType string
	Caption  string
}

type Video struct {
	URL      string
	MimeType string
	Caption  string
}

// Audio with PTT set is delivered as a voice note.
type Audio struct {
	URL      string
	MimeType string
	PTT      bool
}

type Document struct {
	URL      string
	MimeType string
	FileName string
	Caption  string
}

type Sticker struct {
	URL      string
	MimeType string
}

type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

type ContactCard struct {
	DisplayName string
	VCard       string
}

// Reaction attaches Emoji to the message identified by Key.
type Reaction struct {
	Key   MessageKey
	Emoji string
}

func (Text) payload()        {}
func (Image) payload()       {}
func (Video) payload()       {}
func (Audio) payload()       {}
func (Document) payload()    {}
func (Sticker) payload()     {}
func (Location) payload()    {}
func (ContactCard) payload() {}
func (Reaction) payload()    {}

// QuotedStub is the minimal reference the protocol needs to render a reply.
type QuotedStub struct {
	ID        string
	RemoteJID string
	FromMe    bool
}

type OutgoingMessage struct {
	Payload Payload
	Quoted  *QuotedStub
}
