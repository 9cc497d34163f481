// Package journal persists engine events to an append-only SQLite table
// for offline inspection and indexers. It subscribes to the event bus and
// never feeds back into the core.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/futarchybot/gomarket/internal/events"
)

var log = logrus.WithField("component", "journal")

// Record is one journaled event row.
type Record struct {
	ID         int64
	MarketID   string
	Kind       string
	Timestamp  uint64
	RecordedAt time.Time
	Payload    json.RawMessage
}

// Journal is the SQLite-backed event log. Safe for concurrent use through
// the single database connection.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database and applies migrations.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir journal dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  market_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  ts INTEGER NOT NULL,
  recorded_at TEXT NOT NULL,
  payload_json TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_events_market ON events(market_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "journal migrate")
		}
	}
	return nil
}

// describe maps a bus event to its journal kind and key columns.
func describe(event any) (kind, marketID string, ts uint64, ok bool) {
	kind = events.Kind(event)
	if kind == "" {
		return "", "", 0, false
	}
	switch e := event.(type) {
	case events.SwapExecutedEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.LiquidityAddedEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.LiquidityRemovedEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.OracleUpdatedEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.TradingStartedEvent:
		return kind, e.MarketID.String(), e.StartTime, true
	case events.TradingEndedEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.MarketFinalizedEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.TokenSplitEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.TokenMergeEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.CompleteSetMintedEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.CompleteSetRedeemedEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	case events.WinningsRedeemedEvent:
		return kind, e.MarketID.String(), e.Timestamp, true
	default:
		return "", "", 0, false
	}
}

// Append journals one event. Unknown event types are ignored.
func (j *Journal) Append(ctx context.Context, event any) error {
	kind, marketID, ts, ok := describe(event)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO events (market_id, kind, ts, recorded_at, payload_json)
VALUES (?,?,?,?,?)
`, marketID, kind, int64(ts), time.Now().Format(time.RFC3339Nano), string(payload))
	return errors.Wrap(err, "insert event")
}

// Attach subscribes the journal to a bus. Append failures are logged, not
// propagated: the journal must never block or fail trading.
func (j *Journal) Attach(bus *events.Bus) {
	bus.OnEvent(func(event any) {
		if err := j.Append(context.Background(), event); err != nil {
			log.WithError(err).Warn("journal append failed")
		}
	})
}

// Events returns up to limit journaled rows for one market, oldest first.
func (j *Journal) Events(ctx context.Context, marketID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, market_id, kind, ts, recorded_at, payload_json
FROM events
WHERE market_id = ?
ORDER BY id ASC
LIMIT ?
`, marketID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			ts         int64
			recordedAt string
			payload    string
		)
		if err := rows.Scan(&r.ID, &r.MarketID, &r.Kind, &ts, &recordedAt, &payload); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		r.Timestamp = uint64(ts)
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}
