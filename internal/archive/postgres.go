package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/obslog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// psq is the statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var resultColumns = []string{
	"room_id", "red_id", "red_name", "black_id", "black_name",
	"status", "winner", "winner_id", "move_count", "moves",
	"final_board", "started_at", "ended_at", "duration_ms",
}

const upsertSuffix = `ON CONFLICT (room_id) DO UPDATE SET
	red_id=EXCLUDED.red_id,
	red_name=EXCLUDED.red_name,
	black_id=EXCLUDED.black_id,
	black_name=EXCLUDED.black_name,
	status=EXCLUDED.status,
	winner=EXCLUDED.winner,
	winner_id=EXCLUDED.winner_id,
	move_count=EXCLUDED.move_count,
	moves=EXCLUDED.moves,
	final_board=EXCLUDED.final_board,
	started_at=EXCLUDED.started_at,
	ended_at=EXCLUDED.ended_at,
	duration_ms=EXCLUDED.duration_ms`

// PostgresStore writes results to the match_results table.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, pings and migrates.
func OpenPostgres(databaseURL string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Migrate applies pending schema migrations.
func Migrate(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("getting migration version: %w", err)
	}
	obslog.L().Info("archive_migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Record upserts r keyed by room id.
func (s *PostgresStore) Record(ctx context.Context, r Result) error {
	if s == nil || s.db == nil {
		return nil
	}
	moves, err := json.Marshal(r.Moves)
	if err != nil {
		return fmt.Errorf("encode moves: %w", err)
	}
	query, args, err := psq.Insert("match_results").
		Columns(resultColumns...).
		Values(
			r.RoomID, r.RedID, r.RedName, r.BlackID, r.BlackName,
			r.Status, r.Winner, r.WinnerID, r.MoveCount, string(moves),
			r.FinalBoard, r.StartedAt, r.EndedAt, r.Duration().Milliseconds(),
		).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	return nil
}

// Recent lists the newest results first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Result, error) {
	query, args, err := psq.Select(resultColumns...).
		From("match_results").
		OrderBy("ended_at DESC").
		Limit(uint64(clampLimit(limit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Result
	for rows.Next() {
		var (
			r        Result
			moves    []byte
			duration int64
		)
		if err := rows.Scan(
			&r.RoomID, &r.RedID, &r.RedName, &r.BlackID, &r.BlackName,
			&r.Status, &r.Winner, &r.WinnerID, &r.MoveCount, &moves,
			&r.FinalBoard, &r.StartedAt, &r.EndedAt, &duration,
		); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if len(moves) > 0 {
			if err := json.Unmarshal(moves, &r.Moves); err != nil {
				return nil, fmt.Errorf("decode moves for %s: %w", r.RoomID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
