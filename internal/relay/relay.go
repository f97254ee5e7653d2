package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/nerrad567/crsql-harness/internal/changeset"
	"github.com/nerrad567/crsql-harness/internal/infrastructure/mqtt"
)

// Defaults applied by New to zero-valued options.
const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 500
	defaultInboundQueue = 64
)

// Batch directions reported to the Recorder.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// Store is the database surface the relay needs.
type Store interface {
	// SiteID returns the local site.
	SiteID(ctx context.Context) (uuid.UUID, error)

	// Pull returns changes after since, oldest first, at most limit rows.
	Pull(ctx context.Context, since changeset.Cursor, mode changeset.Mode, limit int) ([]changeset.Change, error)

	// LastSeen returns how far site has been merged.
	LastSeen(ctx context.Context, site uuid.UUID) (changeset.Cursor, error)

	// Merge applies changes from site and advances its last-seen cursor to
	// until, atomically.
	Merge(ctx context.Context, site uuid.UUID, changes []changeset.Change, until changeset.Cursor) error
}

// Transport carries batches between sites. *mqtt.Client satisfies it.
type Transport interface {
	// PublishBatch fails with mqtt.ErrPayloadTooLarge, sending nothing,
	// when the encoded batch is over the message limit.
	PublishBatch(dbID string, b changeset.Batch, qos byte) error
	SubscribeBatches(dbID string, qos byte, handler mqtt.BatchHandler) error
	UnsubscribeBatches(dbID string) error
}

// Recorder receives per-batch statistics. *influxdb.Client satisfies it.
type Recorder interface {
	WriteSyncBatch(dbID, direction, site string, changes int, dbVersion int64)
}

// Logger is the logging surface the relay writes to.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Relay.
type Options struct {
	// DBID names the replicated database; it scopes every topic.
	DBID string

	// Mode selects which local changes are published.
	Mode changeset.Mode

	// PollInterval is how often crsql_changes is polled. Default 1s.
	PollInterval time.Duration

	// BatchSize caps the rows pulled per query. Default 500.
	BatchSize int

	// QoS is the MQTT quality of service for published batches.
	QoS byte

	// Recorder receives batch statistics. May be nil.
	Recorder Recorder

	// Logger receives relay logs. May be nil.
	Logger Logger
}

// Relay streams local changes out and merges remote changes in.
//
// Thread Safety: Run must be called once. Cursor is safe for concurrent use.
type Relay struct {
	store     Store
	transport Transport
	opts      Options
	logger    Logger

	site uuid.UUID

	mu     sync.Mutex
	cursor changeset.Cursor

	inbound chan changeset.Batch
	stopped chan struct{}
}

// New creates a relay over store and transport.
//
// Parameters:
//   - store: Database session, usually NewSessionStore(db)
//   - transport: Broker connection, usually *mqtt.Client
//   - opts: Relay options; DBID is required
//
// Returns:
//   - *Relay: Relay ready to Run
//   - error: ErrInvalidOptions if options are unusable
func New(store Store, transport Transport, opts Options) (*Relay, error) {
	if store == nil || transport == nil {
		return nil, fmt.Errorf("%w: store and transport are required", ErrInvalidOptions)
	}
	if opts.DBID == "" {
		return nil, fmt.Errorf("%w: db id is required", ErrInvalidOptions)
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("%w: qos %d", ErrInvalidOptions, opts.QoS)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Relay{
		store:     store,
		transport: transport,
		opts:      opts,
		logger:    logger,
		cursor:    changeset.Start,
		inbound:   make(chan changeset.Batch, defaultInboundQueue),
		stopped:   make(chan struct{}),
	}, nil
}

// Cursor returns the position of the last published change.
func (r *Relay) Cursor() changeset.Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Run subscribes to peer batches and streams changes until ctx is cancelled.
//
// Returns:
//   - error: ctx.Err() after cancellation, a setup failure, or ErrPanic
func (r *Relay) Run(ctx context.Context) error {
	defer close(r.stopped)

	site, err := r.store.SiteID(ctx)
	if err != nil {
		return fmt.Errorf("reading site id: %w", err)
	}
	r.site = site

	if err := r.transport.SubscribeBatches(r.opts.DBID, r.opts.QoS, r.enqueue); err != nil {
		return fmt.Errorf("subscribing to %s batches: %w", r.opts.DBID, err)
	}
	defer func() {
		if err := r.transport.UnsubscribeBatches(r.opts.DBID); err != nil {
			r.logger.Warn("unsubscribe failed", "db_id", r.opts.DBID, "error", err)
		}
	}()

	r.logger.Info("relay started",
		"db_id", r.opts.DBID,
		"site_id", site.String(),
		"mode", r.opts.Mode.String(),
		"poll_interval", r.opts.PollInterval.String(),
	)

	var wg conc.WaitGroup
	wg.Go(func() { r.outboundLoop(ctx) })
	wg.Go(func() { r.inboundLoop(ctx) })
	if rec := wg.WaitAndRecover(); rec != nil {
		return fmt.Errorf("%w: %v", ErrPanic, rec.Value)
	}

	r.logger.Info("relay stopped", "db_id", r.opts.DBID, "cursor", r.Cursor().String())
	return ctx.Err()
}

// enqueue hands a received batch to the inbound worker.
func (r *Relay) enqueue(b changeset.Batch) error {
	select {
	case <-r.stopped:
		return ErrStopped
	default:
	}
	select {
	case r.inbound <- b:
		return nil
	case <-r.stopped:
		return ErrStopped
	}
}

func (r *Relay) outboundLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.publishPending(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("publishing changes failed", "cursor", r.Cursor().String(), "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Relay) inboundLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-r.inbound:
			if err := r.applyBatch(ctx, b); err != nil && ctx.Err() == nil {
				r.logger.Error("applying batch failed", "batch_id", b.ID.String(), "site_id", b.SiteID.String(), "error", err)
			}
		}
	}
}

// publishPending publishes every change recorded after the cursor.
// The cursor advances only past changes the transport accepted.
//
// Returns:
//   - int: Number of changes published
//   - error: The first pull or publish failure
func (r *Relay) publishPending(ctx context.Context) (int, error) {
	total := 0
	for {
		changes, err := r.store.Pull(ctx, r.Cursor(), r.opts.Mode, r.opts.BatchSize)
		if err != nil {
			return total, err
		}
		if len(changes) == 0 {
			return total, nil
		}
		if err := r.publish(changes); err != nil {
			return total, err
		}
		total += len(changes)
		if len(changes) < r.opts.BatchSize {
			return total, nil
		}
	}
}

// publish sends changes as one batch, halving it until it fits the
// transport's message limit.
func (r *Relay) publish(changes []changeset.Change) error {
	batch := changeset.NewBatch(r.site, r.Cursor(), changes)
	err := r.transport.PublishBatch(r.opts.DBID, batch, r.opts.QoS)
	if errors.Is(err, mqtt.ErrPayloadTooLarge) && len(changes) > 1 {
		half := len(changes) / 2
		if err := r.publish(changes[:half]); err != nil {
			return err
		}
		return r.publish(changes[half:])
	}
	if err != nil {
		if len(changes) == 1 {
			return fmt.Errorf("publishing change %s in %s: %w", changes[0].Position(), changes[0].Table, err)
		}
		return fmt.Errorf("publishing batch %s: %w", batch.ID, err)
	}

	r.mu.Lock()
	r.cursor = batch.Until
	r.mu.Unlock()

	r.logger.Debug("batch published",
		"batch_id", batch.ID.String(),
		"changes", len(changes),
		"until", batch.Until.String(),
	)
	r.record(DirectionOutbound, r.site, len(changes), batch.Until.DBVersion)
	return nil
}

// applyBatch merges a batch received from a peer.
//
// Batches from this site and batches already merged are dropped. Changes at
// or before the peer's last-seen cursor are skipped, so overlapping batches
// apply only their new tail.
func (r *Relay) applyBatch(ctx context.Context, batch changeset.Batch) error {
	if batch.SiteID == r.site {
		return nil
	}

	seen, err := r.store.LastSeen(ctx, batch.SiteID)
	if err != nil {
		return err
	}
	if !batch.Until.After(seen) {
		r.logger.Debug("stale batch dropped",
			"batch_id", batch.ID.String(),
			"site_id", batch.SiteID.String(),
			"until", batch.Until.String(),
			"last_seen", seen.String(),
		)
		return nil
	}
	if batch.Since.After(seen) {
		r.logger.Warn("gap in peer stream",
			"site_id", batch.SiteID.String(),
			"since", batch.Since.String(),
			"last_seen", seen.String(),
		)
	}

	fresh := make([]changeset.Change, 0, len(batch.Changes))
	for _, ch := range batch.Changes {
		if ch.Position().After(seen) {
			fresh = append(fresh, ch)
		}
	}

	if err := r.store.Merge(ctx, batch.SiteID, fresh, batch.Until); err != nil {
		return fmt.Errorf("applying batch %s: %w", batch.ID, err)
	}

	r.logger.Debug("batch applied",
		"batch_id", batch.ID.String(),
		"site_id", batch.SiteID.String(),
		"changes", len(fresh),
		"until", batch.Until.String(),
	)
	r.record(DirectionInbound, batch.SiteID, len(fresh), batch.Until.DBVersion)
	return nil
}

func (r *Relay) record(direction string, site uuid.UUID, changes int, dbVersion int64) {
	if r.opts.Recorder == nil {
		return
	}
	r.opts.Recorder.WriteSyncBatch(r.opts.DBID, direction, site.String(), changes, dbVersion)
}
