package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/metrics"
	"github.com/relaydesk/channel-server/internal/protocol"
)

// Pipeline is the entry point for messages read off live sockets.
type Pipeline struct {
	queue Queue
}

func NewPipeline(queue Queue) *Pipeline {
	return &Pipeline{queue: queue}
}

// Submit enqueues msg for persistence. Echoes of our own sends are dropped.
func (p *Pipeline) Submit(ctx context.Context, channelID, tenantID string, msg protocol.InboundMessage) error {
	if msg.Key.FromMe {
		return nil
	}
	if msg.Key.ID == "" || msg.Key.RemoteJID == "" {
		log.Warn().
			Str("channelId", channelID).
			Msg("dropping inbound message without id or remote jid")
		return nil
	}

	job := NewJob(channelID, tenantID, msg)
	if err := p.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue inbound message: %w", err)
	}
	metrics.IngestJobsEnqueued.Inc()

	log.Debug().
		Str("jobId", job.ID).
		Str("channelId", channelID).
		Str("messageId", msg.Key.ID).
		Msg("inbound message enqueued")

	return nil
}
