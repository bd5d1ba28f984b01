package record

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/wardflow/wardflow/internal/domain/patient"
)

const patientChannel = "wardflow_patients"

// PGAdapter persists patient documents as JSONB rows in PostgreSQL and
// exposes a change feed via LISTEN/NOTIFY. Every write notifies the
// patient channel, so each subscriber re-reads and re-delivers the
// authoritative collection after each change, which is what the store's
// reconciliation expects.
type PGAdapter struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPGAdapter wraps a connection pool. A nil pool yields a non-live
// adapter, which callers should treat as "use NoopAdapter instead".
func NewPGAdapter(pool *pgxpool.Pool, logger zerolog.Logger) *PGAdapter {
	return &PGAdapter{pool: pool, logger: logger}
}

func (a *PGAdapter) Live() bool {
	return a != nil && a.pool != nil
}

func (a *PGAdapter) Put(ctx context.Context, id string, doc patient.Patient) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal patient %s: %w", id, err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO patient_document (id, doc, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		id, payload)
	if err != nil {
		return fmt.Errorf("upsert patient %s: %w", id, err)
	}
	return a.notifyChange(ctx, id)
}

// Patch merges a partial top-level update into the stored document using
// jsonb concatenation. The merge is shallow; deep section merging happens
// in the store before the document reaches the adapter.
func (a *PGAdapter) Patch(ctx context.Context, id string, partial map[string]any) error {
	payload, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("marshal patch for %s: %w", id, err)
	}
	tag, err := a.pool.Exec(ctx, `
		UPDATE patient_document SET doc = doc || $2::jsonb, updated_at = NOW()
		WHERE id = $1`,
		id, payload)
	if err != nil {
		return fmt.Errorf("patch patient %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patch patient %s: %w", id, ErrNotFound)
	}
	return a.notifyChange(ctx, id)
}

func (a *PGAdapter) Append(ctx context.Context, collection string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", collection, err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO append_log (id, collection, doc, recorded_at)
		VALUES ($1, $2, $3, NOW())`,
		uuid.New(), collection, payload)
	if err != nil {
		return fmt.Errorf("append to %s: %w", collection, err)
	}
	return nil
}

func (a *PGAdapter) notifyChange(ctx context.Context, id string) error {
	if _, err := a.pool.Exec(ctx, "SELECT pg_notify($1, $2)", patientChannel, id); err != nil {
		return fmt.Errorf("notify change for %s: %w", id, err)
	}
	return nil
}

// Subscribe delivers the full collection once at start and again after
// every notification, always from one goroutine so deliveries arrive in
// order. The returned stop func cancels the listening connection; it does
// not cancel writes already in flight.
func (a *PGAdapter) Subscribe(onChange func([]patient.Patient)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("acquire feed connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+patientChannel); err != nil {
		conn.Release()
		cancel()
		return nil, fmt.Errorf("listen on %s: %w", patientChannel, err)
	}

	go func() {
		defer conn.Release()

		a.deliver(ctx, onChange)
		for {
			if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				a.logger.Error().Err(err).Msg("change-feed connection lost")
				return
			}
			a.deliver(ctx, onChange)
		}
	}()

	return cancel, nil
}

func (a *PGAdapter) deliver(ctx context.Context, onChange func([]patient.Patient)) {
	docs, err := a.loadAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error().Err(err).Msg("change-feed load failed, skipping delivery")
		}
		return
	}
	onChange(docs)
}

func (a *PGAdapter) loadAll(ctx context.Context) ([]patient.Patient, error) {
	ctx, cancelLoad := context.WithTimeout(ctx, 10*time.Second)
	defer cancelLoad()

	rows, err := a.pool.Query(ctx, "SELECT doc FROM patient_document ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("load patient documents: %w", err)
	}
	defer rows.Close()

	var docs []patient.Patient
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan patient document: %w", err)
		}
		var p patient.Patient
		if err := json.Unmarshal(payload, &p); err != nil {
			a.logger.Warn().Err(err).Msg("skipping undecodable patient document")
			continue
		}
		docs = append(docs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patient documents: %w", err)
	}
	return docs, nil
}
