// Package outbound is the persistent delivery queue for mail leaving the system.
// Entries are retried with a fixed cooldown until they are sent or run out of attempts.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/delivery"
	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/models"
	"github.com/chitbox/chitbox/internal/relay"
)

// ErrMissingField is returned by Enqueue for entries without a required field.
var ErrMissingField = errors.New("missing required field")

// Store is the part of the mailbox store that persists the queue.
type Store interface {
	InsertOutbound(ctx context.Context, e *models.OutboundEmail) error
	GetOutbound(ctx context.Context, id string) (*models.OutboundEmail, error)
	SelectDueOutbound(ctx context.Context, cutoff time.Time, limit int) ([]*models.OutboundEmail, error)
	RecordOutboundAttempt(ctx context.Context, id string, at time.Time) (int, error)
	MarkOutboundSent(ctx context.Context, id string, at time.Time) error
	MarkOutboundFailure(ctx context.Context, id, lastError string) (models.OutboundStatus, error)
	FailExhaustedOutbound(ctx context.Context, cutoff time.Time) ([]string, error)
}

// MessageIDs generates Message-ID header values.
type MessageIDs interface {
	NewMessageID() string
}

// SentFiler stores a copy of an enqueued message in the sender's mailbox.
type SentFiler interface {
	File(ctx context.Context, userID string, folderType models.FolderType, env *models.Envelope, flags delivery.Flags) (*models.Message, error)
}

type Options struct {
	MaxAttempts int
	BatchSize   int
	Interval    time.Duration
	Cooldown    time.Duration
}

type Queue struct {
	store    Store
	relay    relay.Relay
	ids      MessageIDs
	filer    SentFiler
	notifier delivery.Notifier
	opts     Options
	now      func() time.Time

	running atomic.Bool
	wake    chan struct{}
}

// NewQueue creates a Queue. filer and notifier may be nil, in which case no sent copies are kept.
func NewQueue(store Store, r relay.Relay, ids MessageIDs, filer SentFiler, notifier delivery.Notifier, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Minute
	}

	return &Queue{
		store:    store,
		relay:    r,
		ids:      ids,
		filer:    filer,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue validates e and stores it as a pending entry. It fills in the entry's ID,
// MessageID and status, and asks the running loop for an immediate pass.
func (q *Queue) Enqueue(ctx context.Context, e *models.OutboundEmail) error {
	if err := validate(e); err != nil {
		return err
	}

	if e.MessageID == "" {
		e.MessageID = q.ids.NewMessageID()
	}
	e.MaxAttempts = q.opts.MaxAttempts

	if err := q.store.InsertOutbound(ctx, e); err != nil {
		return err
	}

	metricEnqueued.Inc()
	log.InfoContext(ctx).
		Str("outbound_id", e.ID).
		Str("to", e.To).
		Str("message_id", e.MessageID).
		Msg("outbound email queued")

	q.fileSentCopy(ctx, e)
	q.trigger()

	return nil
}

// Get returns a queue entry by id.
func (q *Queue) Get(ctx context.Context, id string) (*models.OutboundEmail, error) {
	return q.store.GetOutbound(ctx, id)
}

func (q *Queue) trigger() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func validate(e *models.OutboundEmail) error {
	switch {
	case e.From.Email == "":
		return fmt.Errorf("%w: from", ErrMissingField)
	case e.To == "":
		return fmt.Errorf("%w: to", ErrMissingField)
	case e.Subject == "":
		return fmt.Errorf("%w: subject", ErrMissingField)
	case e.BodyText == "" && e.BodyHTML == "":
		return fmt.Errorf("%w: body", ErrMissingField)
	}
	return nil
}

// ProcessBatch attempts every due entry once, oldest first. A call made while another
// batch is still running returns immediately. It returns the number of entries attempted.
func (q *Queue) ProcessBatch(ctx context.Context) (int, error) {
	if !q.running.CompareAndSwap(false, true) {
		log.DebugContext(ctx).Msg("outbound batch already running, skipping")
		return 0, nil
	}
	defer q.running.Store(false)

	cutoff := q.now().Add(-q.opts.Cooldown)
	q.failExhausted(ctx, cutoff)

	entries, err := q.store.SelectDueOutbound(ctx, cutoff, q.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := q.ProcessOne(ctx, e); err != nil {
			log.ErrorContext(ctx).Err(err).Str("outbound_id", e.ID).Msg("failed to process outbound email")
			continue
		}
		attempted++
	}

	return attempted, nil
}

// failExhausted settles entries whose final attempt was counted but whose
// outcome was never stored, e.g. after a crash or a failed status write.
func (q *Queue) failExhausted(ctx context.Context, cutoff time.Time) {
	ids, err := q.store.FailExhaustedOutbound(ctx, cutoff)
	if err != nil {
		log.ErrorContext(ctx).Err(err).Msg("failed to settle exhausted outbound emails")
		return
	}
	for _, id := range ids {
		metricFailed.WithLabelValues(q.relay.Name()).Inc()
		log.ErrorContext(ctx).
			Str("outbound_id", id).
			Msg("outbound email failed permanently, outcome of its last attempt was lost")
	}
}

// ProcessOne makes a single delivery attempt. The attempt is counted before the
// relay is called, so a crash mid-send never yields extra attempts.
func (q *Queue) ProcessOne(ctx context.Context, e *models.OutboundEmail) error {
	attempts, err := q.store.RecordOutboundAttempt(ctx, e.ID, q.now())
	if errors.Is(err, db.ErrOutboundNotDue) {
		log.DebugContext(ctx).Str("outbound_id", e.ID).Msg("outbound email no longer due")
		return nil
	}
	if err != nil {
		return err
	}

	sendErr := q.relay.Send(ctx, e)
	if sendErr == nil {
		if err := q.store.MarkOutboundSent(ctx, e.ID, q.now()); err != nil {
			return err
		}
		metricSent.WithLabelValues(q.relay.Name()).Inc()
		log.InfoContext(ctx).
			Str("outbound_id", e.ID).
			Str("relay", q.relay.Name()).
			Int("attempt", attempts).
			Msg("outbound email sent")
		return nil
	}

	status, err := q.store.MarkOutboundFailure(ctx, e.ID, sendErr.Error())
	if err != nil {
		return err
	}

	if status == models.OutboundFailed {
		metricFailed.WithLabelValues(q.relay.Name()).Inc()
		log.ErrorContext(ctx).
			Err(sendErr).
			Str("outbound_id", e.ID).
			Str("to", e.To).
			Int("attempts", attempts).
			Msg("outbound email failed permanently")
		return nil
	}

	metricRetried.WithLabelValues(q.relay.Name()).Inc()
	log.WarnContext(ctx).
		Err(sendErr).
		Str("outbound_id", e.ID).
		Int("attempt", attempts).
		Int("max_attempts", e.MaxAttempts).
		Msg("outbound attempt failed, will retry")
	return nil
}

// Run processes the queue every interval and whenever Enqueue asks for it, until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	ctx = log.WithOrigin(ctx, "outbound")
	ticker := time.NewTicker(q.opts.Interval)
	defer ticker.Stop()

	log.InfoContext(ctx).
		Str("relay", q.relay.Name()).
		Dur("interval", q.opts.Interval).
		Msg("outbound queue started")

	for {
		if _, err := q.ProcessBatch(ctx); err != nil {
			log.ErrorContext(ctx).Err(err).Msg("outbound batch failed")
		}

		select {
		case <-ctx.Done():
			log.InfoContext(ctx).Msg("outbound queue stopped")
			return
		case <-ticker.C:
		case <-q.wake:
		}
	}
}
