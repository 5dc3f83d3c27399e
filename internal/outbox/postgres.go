package outbox

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-saga-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var Schema string

// Enqueue writes msg in the caller's transaction.
func Enqueue(ctx context.Context, tx pgx.Tx, msg Message) error {
	env, err := json.Marshal(msg.Envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox(producer, topic, event_id, event_type, envelope, headers)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.Envelope.Producer, msg.Topic, msg.Envelope.EventID, msg.Envelope.EventType, env, headers,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

// PG is the Postgres Store for one producer. Rows are locked with SKIP
// LOCKED, so several replicas can relay without sending a row twice.
type PG struct {
	DB       *pgxpool.Pool
	Producer string
}

func (s *PG) Drain(ctx context.Context, limit int, publish PublishFunc) (int, error) {
	sent := 0
	var relayErr error
	err := postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, topic, envelope, headers, created_at, attempts, COALESCE(last_error, '')
			FROM outbox
			WHERE producer=$1 AND sent_at IS NULL
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED`, s.Producer, limit)
		if err != nil {
			return fmt.Errorf("select outbox: %w", err)
		}
		records, err := pgx.CollectRows(rows, scanRecord)
		if err != nil {
			return fmt.Errorf("scan outbox: %w", err)
		}

		for _, r := range records {
			if perr := publish(ctx, r); perr != nil {
				if _, err := tx.Exec(ctx, `
					UPDATE outbox SET attempts=attempts+1, last_error=$2 WHERE id=$1`,
					r.ID, perr.Error()); err != nil {
					return fmt.Errorf("mark outbox failed: %w", err)
				}
				relayErr = fmt.Errorf("relay %s #%d: %w", r.Envelope.EventType, r.ID, perr)
				return nil
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET sent_at=now(), attempts=attempts+1, last_error=NULL WHERE id=$1`,
				r.ID); err != nil {
				return fmt.Errorf("mark outbox sent: %w", err)
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, relayErr
}

func scanRecord(row pgx.CollectableRow) (Record, error) {
	var (
		r       Record
		env     []byte
		headers []byte
	)
	if err := row.Scan(&r.ID, &r.Topic, &env, &headers, &r.CreatedAt, &r.Attempts, &r.LastError); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(env, &r.Envelope); err != nil {
		return Record{}, fmt.Errorf("decode envelope #%d: %w", r.ID, err)
	}
	if err := json.Unmarshal(headers, &r.Headers); err != nil {
		return Record{}, fmt.Errorf("decode headers #%d: %w", r.ID, err)
	}
	return r, nil
}
