package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/metrics"
	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/protocol"
	"github.com/relaydesk/channel-server/internal/repository"
	"github.com/relaydesk/channel-server/internal/storage"
)

type SocketSource interface {
	LiveSocket(channelID string) (protocol.Socket, bool)
}

type MediaResolver interface {
	GetDownloadURL(ctx context.Context, mediaID, tenantID string) (*storage.DownloadURL, error)
}

type Request struct {
	TenantID string
	// To is a phone number or a jid.
	To     string
	Intent Intent
	// QuoteMessageID is the id of a stored message to reply to.
	QuoteMessageID string
}

type SendResult struct {
	ProviderMessageID *string `json:"providerMessageId,omitempty"`
	// Ephemeral results have no stored message behind them.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

type Options struct {
	RatePerSecond float64
	Burst         int
}

type Dispatcher struct {
	sockets  SocketSource
	media    MediaResolver
	messages repository.MessageRepository
	opts     Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewDispatcher(sockets SocketSource, media MediaResolver, messages repository.MessageRepository, opts Options) *Dispatcher {
	return &Dispatcher{
		sockets:  sockets,
		media:    media,
		messages: messages,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Send delivers one intent. Input is validated before the channel's session
// is looked up. Failed sends are not retried.
func (d *Dispatcher) Send(ctx context.Context, channelID string, req Request) (*SendResult, error) {
	if req.Intent == nil {
		return nil, apperrors.MissingRequired("message")
	}
	if err := req.Intent.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.To) == "" {
		return nil, apperrors.MissingRequired("recipient")
	}

	to := protocol.ToJID(req.To)
	msgType := req.Intent.Type()

	var quoted *protocol.QuotedStub
	if req.QuoteMessageID != "" && msgType != model.MessageTypeReaction {
		stub, err := d.resolveQuote(ctx, req.QuoteMessageID, to)
		if err != nil {
			return nil, err
		}
		quoted = stub
	}

	socket, ok := d.sockets.LiveSocket(channelID)
	if !ok {
		metrics.MessagesSent.WithLabelValues(string(msgType), "not_connected").Inc()
		return nil, apperrors.ChannelNotConnected(channelID)
	}

	payload, err := d.buildPayload(ctx, req, to)
	if err != nil {
		return nil, err
	}

	if err := d.limiter(channelID).Wait(ctx); err != nil {
		return nil, apperrors.RateLimitExceeded().WithCause(err)
	}

	start := time.Now()
	providerID, err := socket.SendMessage(ctx, to, protocol.OutgoingMessage{Payload: payload, Quoted: quoted})
	metrics.DispatchDuration.WithLabelValues(string(msgType)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.MessagesSent.WithLabelValues(string(msgType), "failed").Inc()
		log.Error().
			Err(err).
			Str("channelId", channelID).
			Str("type", string(msgType)).
			Msg("send failed")
		return nil, apperrors.SendFailed(err)
	}
	metrics.MessagesSent.WithLabelValues(string(msgType), "sent").Inc()

	log.Info().
		Str("channelId", channelID).
		Str("type", string(msgType)).
		Str("providerMessageId", providerID).
		Msg("message sent")

	result := &SendResult{Ephemeral: msgType == model.MessageTypeReaction}
	if providerID != "" {
		result.ProviderMessageID = &providerID
	}
	return result, nil
}

func (d *Dispatcher) resolveQuote(ctx context.Context, messageID, to string) (*protocol.QuotedStub, error) {
	quotedMsg, err := d.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if quotedMsg == nil {
		return nil, apperrors.NotFound("Quoted message")
	}
	if quotedMsg.ProviderMessageID == nil || *quotedMsg.ProviderMessageID == "" {
		return nil, apperrors.QuoteNotReady()
	}
	return &protocol.QuotedStub{
		ID:        *quotedMsg.ProviderMessageID,
		RemoteJID: to,
		FromMe:    quotedMsg.SenderType != model.SenderTypeContact,
	}, nil
}

func (d *Dispatcher) buildPayload(ctx context.Context, req Request, to string) (protocol.Payload, error) {
	switch intent := req.Intent.(type) {
	case Text:
		return protocol.Text{Body: intent.Body}, nil

	case Media:
		download, err := d.media.GetDownloadURL(ctx, intent.MediaID, req.TenantID)
		if err != nil {
			return nil, err
		}
		return mediaPayload(intent, download), nil

	case Location:
		return protocol.Location{
			Latitude:  *intent.Latitude,
			Longitude: *intent.Longitude,
			Name:      intent.Name,
			Address:   intent.Address,
		}, nil

	case ContactCard:
		name := intent.DisplayName
		if name == "" {
			name = displayName(intent.VCard)
		}
		return protocol.ContactCard{DisplayName: name, VCard: intent.VCard}, nil

	case Reaction:
		return protocol.Reaction{
			Key: protocol.MessageKey{
				RemoteJID: to,
				FromMe:    intent.TargetFromMe,
				ID:        intent.TargetProviderID,
			},
			Emoji: intent.Emoji,
		}, nil
	}

	return nil, apperrors.InvalidInput("type", "unsupported message type")
}

func mediaPayload(m Media, download *storage.DownloadURL) protocol.Payload {
	switch m.Kind {
	case model.MessageTypeImage:
		return protocol.Image{URL: download.URL, MimeType: download.MimeType, Caption: m.Caption}
	case model.MessageTypeVideo:
		return protocol.Video{URL: download.URL, MimeType: download.MimeType, Caption: m.Caption}
	case model.MessageTypeAudio:
		return protocol.Audio{URL: download.URL, MimeType: download.MimeType, PTT: true}
	case model.MessageTypeSticker:
		return protocol.Sticker{URL: download.URL, MimeType: download.MimeType}
	default:
		name := m.FileName
		if name == "" {
			name = download.OriginalName
		}
		return protocol.Document{URL: download.URL, MimeType: download.MimeType, FileName: name, Caption: m.Caption}
	}
}

func (d *Dispatcher) limiter(channelID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	lim, ok := d.limiters[channelID]
	if !ok {
		limit := rate.Inf
		if d.opts.RatePerSecond > 0 {
			limit = rate.Limit(d.opts.RatePerSecond)
		}
		burst := d.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(limit, burst)
		d.limiters[channelID] = lim
	}
	return lim
}
