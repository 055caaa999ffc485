// Package outbox implements the at-least-once event dispatcher: domain
// events are written to the outbox table in the same transaction as the
// state change that produced them, then drained by this background loop so
// a crash between "state changed" and "event delivered" can never lose the
// event outright — only deliver it again.
package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"roomrunner/internal/archive"
	"roomrunner/internal/domain"
	"roomrunner/internal/repository"
)

const (
	maxAttempts     = 5
	batchSize       = 100
	tickInterval    = 5 * time.Second
	cleanupInterval = time.Hour
	cleanupRetain   = 7 * 24 // hours
)

// EventTypePlayerUpdated and EventTypeGameEnded are the two outbox event
// types this build dispatches; PlayerUpdated is published for any
// realtime subscriber (e.g. a balance widget), GameEnded triggers
// archival.
const (
	EventTypePlayerUpdated = "PlayerUpdated"
	EventTypeGameEnded     = "GameEnded"
)

// Publisher sends a PlayerUpdated-style event to whatever realtime fan-out
// the deployment uses (a redis pub/sub channel in this build).
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
}

// RoomDeleter tears down a finished room's ephemeral entries (engine
// state, registry indices) once its archive row is safely written, per the
// room lifecycle: archived on terminal state, deleted from the ephemeral
// store once archived.
type RoomDeleter interface {
	Delete(ctx context.Context, room *domain.Room) error
}

type Dispatcher struct {
	repo      *repository.OutboxRepository
	archiver  *archive.Service
	publisher Publisher
	deleter   RoomDeleter
	log       *slog.Logger
}

func New(repo *repository.OutboxRepository, archiver *archive.Service, publisher Publisher, deleter RoomDeleter, log *slog.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, archiver: archiver, publisher: publisher, deleter: deleter, log: log}
}

// Enqueue records a new outbox row; callers that need "same transaction as
// the state write" guarantees should instead write directly via
// repository.OutboxRepository inside their own transaction and use this
// only for best-effort events.
func (d *Dispatcher) Enqueue(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return d.repo.Insert(ctx, eventType, data)
}

// Run blocks, draining the outbox on a fixed tick until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.drainOnce(ctx)
		case <-cleanupTicker.C:
			d.cleanupOnce(ctx)
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) {
	batch, err := d.repo.ClaimBatch(ctx, maxAttempts, batchSize)
	if err != nil {
		d.log.Error("outbox: claim batch failed", "err", err)
		return
	}
	for _, msg := range batch {
		if err := d.dispatch(ctx, msg.EventType, msg.PayloadJSON); err != nil {
			d.log.Warn("outbox: dispatch failed, will retry", "id", msg.ID, "eventType", msg.EventType, "attempt", msg.Attempts, "err", err)
			if markErr := d.repo.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				d.log.Error("outbox: failed to record dispatch failure", "id", msg.ID, "err", markErr)
			}
			continue
		}
		if err := d.repo.MarkProcessed(ctx, msg.ID); err != nil {
			d.log.Error("outbox: failed to mark processed", "id", msg.ID, "err", err)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case EventTypePlayerUpdated:
		if d.publisher == nil {
			return nil
		}
		return d.publisher.Publish(ctx, eventType, payload)
	case EventTypeGameEnded:
		var p domain.GameEndedEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		if err := d.archiver.Archive(ctx, &p); err != nil {
			return err
		}
		if d.deleter != nil {
			room := &domain.Room{ID: p.RoomID, GameType: p.GameType, PlayerSeats: p.PlayerSeats}
			if err := d.deleter.Delete(ctx, room); err != nil {
				// Archive row is written; failing the message here would
				// re-archive on retry, so the teardown stays best-effort.
				d.log.Warn("outbox: failed to delete archived room", "room", p.RoomID, "err", err)
			}
		}
		return nil
	default:
		d.log.Warn("outbox: unknown event type, dropping", "eventType", eventType)
		return nil
	}
}

func (d *Dispatcher) cleanupOnce(ctx context.Context) {
	n, err := d.repo.CleanupProcessed(ctx, maxAttempts, cleanupRetain)
	if err != nil {
		d.log.Error("outbox: cleanup failed", "err", err)
		return
	}
	if n > 0 {
		d.log.Info("outbox: cleaned up processed rows", "count", n)
	}
}
