package event

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goarcana.io/inventory/driver"
	"goarcana.io/inventory/fault"
	"goarcana.io/inventory/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	MarkAsProcessed(ctx context.Context, id string) error
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) Create(ctx context.Context, event *models.Event) error {
	now := time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	_, err := r.conn.Exec(ctx,
		`INSERT INTO events (id, type, processed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.Type, event.Processed, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create event", zap.String("event_id", event.ID), zap.Error(err))
	}
	return err
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	event := new(models.Event)
	err := r.conn.QueryRow(ctx,
		`SELECT id, type, processed, created_at, updated_at FROM events WHERE id = $1`, id,
	).Scan(&event.ID, &event.Type, &event.Processed, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("event %s", id)
		}
		return nil, err
	}
	return event, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE events SET processed = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now(),
	)
	if err != nil {
		r.logger.Error("failed to mark event as processed", zap.String("event_id", id), zap.Error(err))
	}
	return err
}
