package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/metrics"
)

type CredentialPruner interface {
	DeleteStale(ctx context.Context, olderThan time.Time, keep []string) (int64, error)
}

type SessionTracker interface {
	TrackedChannels() []string
}

type StreamTrimmer interface {
	Trim(ctx context.Context, stream string, maxLen int64) (int64, error)
	Len(ctx context.Context, stream string) (int64, error)
}

// StreamLimit bounds one Redis stream.
type StreamLimit struct {
	Stream string
	MaxLen int64
}

// MaintenanceJob prunes credentials of channels that stopped connecting and
// keeps the ingestion streams bounded.
type MaintenanceJob struct {
	credentials CredentialPruner
	sessions    SessionTracker
	trimmer     StreamTrimmer
	streams     []StreamLimit
	retention   time.Duration
	interval    time.Duration
	now         func() time.Time
	done        chan struct{}
}

// NewMaintenanceJob builds the job. trimmer may be nil when the queue is not
// backed by Redis streams.
func NewMaintenanceJob(
	credentials CredentialPruner,
	sessions SessionTracker,
	trimmer StreamTrimmer,
	streams []StreamLimit,
	retention time.Duration,
	interval time.Duration,
) *MaintenanceJob {
	return &MaintenanceJob{
		credentials: credentials,
		sessions:    sessions,
		trimmer:     trimmer,
		streams:     streams,
		retention:   retention,
		interval:    interval,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

func (j *MaintenanceJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("maintenance job started")
}

func (j *MaintenanceJob) Stop() {
	close(j.done)
	log.Info().Msg("maintenance job stopped")
}

func (j *MaintenanceJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunOnce()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

func (j *MaintenanceJob) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.pruneCredentials(ctx)
	if j.trimmer != nil {
		for _, limit := range j.streams {
			j.trimStream(ctx, limit)
		}
	}
}

func (j *MaintenanceJob) pruneCredentials(ctx context.Context) {
	if j.retention <= 0 {
		return
	}

	cutoff := j.now().Add(-j.retention)
	count, err := j.credentials.DeleteStale(ctx, cutoff, j.sessions.TrackedChannels())
	if err != nil {
		log.Error().Err(err).Msg("failed to prune stale credentials")
		return
	}
	if count > 0 {
		metrics.CredentialsPruned.Add(float64(count))
		log.Info().Int64("count", count).Time("cutoff", cutoff).Msg("pruned stale credentials")
	}
}

func (j *MaintenanceJob) trimStream(ctx context.Context, limit StreamLimit) {
	trimmed, err := j.trimmer.Trim(ctx, limit.Stream, limit.MaxLen)
	if err != nil {
		log.Error().Err(err).Str("stream", limit.Stream).Msg("failed to trim stream")
		return
	}
	if trimmed > 0 {
		log.Info().Int64("count", trimmed).Str("stream", limit.Stream).Msg("trimmed stream")
	}

	length, err := j.trimmer.Len(ctx, limit.Stream)
	if err != nil {
		log.Warn().Err(err).Str("stream", limit.Stream).Msg("failed to read stream length")
		return
	}
	metrics.IngestStreamLength.Set(float64(length))
}
