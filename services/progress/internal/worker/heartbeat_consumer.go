package worker

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/lms-platform/internal/platform/events"
	"github.com/example/lms-platform/services/progress/internal/store"
)

// heartbeatSample is what one learning.progress.heartbeat event carries,
// extracted from the standard event envelope.
type heartbeatSample struct {
	EventID         string
	UserID          string
	ItemID          string
	PositionSeconds float64
	DurationSeconds float64
	OccurredAt      time.Time
}

// decodeHeartbeat unwraps the event envelope published by the playback
// service. A false return marks a poison message.
func decodeHeartbeat(data []byte) (heartbeatSample, bool) {
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return heartbeatSample{}, false
	}
	itemID, _ := ev.Properties["item_id"].(string)
	pos, _ := ev.Properties["position_seconds"].(float64)
	dur, _ := ev.Properties["duration_seconds"].(float64)
	if ev.EventID == "" || ev.UserID == "" || itemID == "" {
		return heartbeatSample{}, false
	}
	return heartbeatSample{
		EventID:         ev.EventID,
		UserID:          ev.UserID,
		ItemID:          itemID,
		PositionSeconds: pos,
		DurationSeconds: dur,
		OccurredAt:      ev.OccurredAt,
	}, true
}

// StartHeartbeatConsumer subscribes to learning.progress.heartbeat and applies
// idempotent upserts to the DB in batches.
func StartHeartbeatConsumer(ctx context.Context, nc *nats.Conn, pool *pgxpool.Pool, log *zap.Logger) {
	js, err := nc.JetStream()
	if err != nil {
		log.Error("heartbeat_consumer: jetstream", zap.Error(err))
		return
	}

	sub, err := js.PullSubscribe(events.SubjectProgressHeartbeat, "progress_heartbeat")
	if err != nil {
		log.Error("heartbeat_consumer: subscribe", zap.Error(err))
		return
	}

	go func() {
		batchSize := envInt("WORKER_BATCH_SIZE", 100)
		batchInterval := envInt("WORKER_BATCH_INTERVAL_MS", 2000)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(batchSize, nats.MaxWait(time.Duration(batchInterval)*time.Millisecond))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				log.Warn("heartbeat_consumer: fetch", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}
			if len(msgs) == 0 {
				continue
			}

			if err := applyBatch(ctx, pool, msgs, log); err != nil {
				log.Warn("heartbeat_consumer: batch failed", zap.Error(err))
				nakAll(msgs, log)
				continue
			}
			for _, m := range msgs {
				if err := m.Ack(); err != nil {
					log.Warn("heartbeat_consumer: ack", zap.Error(err))
				}
			}
		}
	}()
}

// applyBatch runs all upserts of one fetch inside a single transaction,
// deduplicated through processed_events.
func applyBatch(ctx context.Context, pool *pgxpool.Pool, msgs []*nats.Msg, log *zap.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range msgs {
		ev, ok := decodeHeartbeat(m.Data)
		if !ok {
			// Poison message: log and skip rather than poisoning the batch.
			log.Warn("heartbeat_consumer: undecodable event", zap.ByteString("data", m.Data))
			continue
		}
		if ev.DurationSeconds <= 0 {
			log.Warn("heartbeat_consumer: heartbeat with unknown duration dropped",
				zap.String("item_id", ev.ItemID))
			continue
		}

		ct, err := tx.Exec(ctx,
			`INSERT INTO processed_events (event_id, subject, created_at, payload)
			 VALUES ($1,$2,$3,$4) ON CONFLICT (event_id) DO NOTHING`,
			ev.EventID, events.SubjectProgressHeartbeat, ev.OccurredAt, m.Data)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			// already processed
			continue
		}

		if err := applyUpsert(ctx, tx, &ev); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func applyUpsert(ctx context.Context, tx pgx.Tx, ev *heartbeatSample) error {
	q := `
INSERT INTO user_item_progress (user_id, item_id, position_seconds, duration_seconds, percent, last_played_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, item_id)
DO UPDATE SET
	position_seconds = EXCLUDED.position_seconds,
	duration_seconds = EXCLUDED.duration_seconds,
	percent          = EXCLUDED.percent,
	last_played_at   = EXCLUDED.last_played_at`

	pct := store.ComputePercent(ev.PositionSeconds, ev.DurationSeconds)
	_, err := tx.Exec(ctx, q, ev.UserID, ev.ItemID, ev.PositionSeconds, ev.DurationSeconds, pct, time.Now().UTC())
	return err
}

func nakAll(msgs []*nats.Msg, log *zap.Logger) {
	for _, m := range msgs {
		if err := m.Nak(); err != nil {
			log.Warn("heartbeat_consumer: nak", zap.Error(err))
		}
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
