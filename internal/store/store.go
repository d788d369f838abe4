package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"whalewatch/config"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrCorrupt indicates the persisted state failed integrity checks.
// The caller must treat this as fatal rather than start with bad watermarks.
var ErrCorrupt = errors.New("store state corrupt")

// Roles for watched addresses.
const (
	RoleRegular = "regular"
	RoleVIP     = "vip"
)

// How an address got its VIP role.
const (
	PromotedManual  = "manual"
	PromotedCluster = "cluster"
)

// Store persists cursors, dedup keys, address roles, positions, wallet
// baselines and detected clusters in Postgres.
type Store struct {
	logger       *zap.Logger
	db           *sqlx.DB
	queryTimeout time.Duration
}

// AddressRecord is one row of the watchlist.
type AddressRecord struct {
	Address       string    `db:"address"`
	Role          string    `db:"role"`
	PromotedBy    string    `db:"promoted_by"`
	NeedsLookback bool      `db:"needs_lookback"`
	AddedAt       time.Time `db:"added_at"`
}

// PositionRecord is a signed position size for one (address, token) pair.
type PositionRecord struct {
	Address string  `db:"address"`
	Token   string  `db:"token"`
	Size    float64 `db:"size"`
}

// ClusterRecord is the audit row written when a cluster fires.
type ClusterRecord struct {
	ID            string
	Token         string
	Direction     string
	Score         int
	TotalNotional float64
	Members       []string
	WindowStart   time.Time
	WindowEnd     time.Time
}

// Open connects to Postgres and returns a Store. The connection is verified
// with a ping before returning.
func Open(logger *zap.Logger, cfg *config.Config) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Store.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN not set")
	}

	db, err := sqlx.Connect("postgres", cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	logger.Info("postgres connected")

	return New(logger, db, cfg.Store.QueryTimeout), nil
}

// New wraps an existing connection. Used by Open and by tests.
func New(logger *zap.Logger, db *sqlx.DB, queryTimeout time.Duration) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}

	return &Store{
		logger:       logger,
		db:           db,
		queryTimeout: queryTimeout,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS addresses (
		address        TEXT PRIMARY KEY,
		role           TEXT NOT NULL DEFAULT 'regular',
		promoted_by    TEXT NOT NULL DEFAULT 'manual',
		needs_lookback BOOLEAN NOT NULL DEFAULT FALSE,
		added_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cursors (
		address    TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		watermark  TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (address, event_kind)
	)`,
	`CREATE TABLE IF NOT EXISTS seen_keys (
		address     TEXT NOT NULL,
		event_kind  TEXT NOT NULL,
		external_id TEXT NOT NULL,
		seen_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (address, event_kind, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		address    TEXT NOT NULL,
		token      TEXT NOT NULL,
		size       DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (address, token)
	)`,
	`CREATE TABLE IF NOT EXISTS baselines (
		address    TEXT PRIMARY KEY,
		notionals  DOUBLE PRECISION[] NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS clusters (
		id             TEXT PRIMARY KEY,
		token          TEXT NOT NULL,
		direction      TEXT NOT NULL,
		score          INT NOT NULL,
		total_notional DOUBLE PRECISION NOT NULL,
		members        TEXT[] NOT NULL,
		window_start   TIMESTAMPTZ NOT NULL,
		window_end     TIMESTAMPTZ NOT NULL,
		detected_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Init creates the schema if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	s.logger.Info("store schema ready")
	return nil
}

var requiredTables = []string{"addresses", "cursors", "seen_keys", "positions", "baselines", "clusters"}

// Verify runs integrity checks on the persisted state. A missing table or a
// watermark in the future means the state cannot be trusted.
func (s *Store) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	for _, table := range requiredTables {
		var reg sql.NullString
		if err := s.db.QueryRowxContext(ctx, `SELECT to_regclass($1)`, table).Scan(&reg); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !reg.Valid {
			return fmt.Errorf("%w: table %s missing", ErrCorrupt, table)
		}
	}

	var futureCursors int
	err := s.db.QueryRowxContext(ctx,
		`SELECT count(*) FROM cursors WHERE watermark > now() + interval '1 hour'`,
	).Scan(&futureCursors)
	if err != nil {
		return fmt.Errorf("check cursors: %w", err)
	}
	if futureCursors > 0 {
		return fmt.Errorf("%w: %d cursors ahead of wall clock", ErrCorrupt, futureCursors)
	}

	return nil
}

// GetCursor returns the watermark for (address, eventKind). The second return
// is false when no cursor exists yet.
func (s *Store) GetCursor(ctx context.Context, address, eventKind string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var watermark time.Time
	err := s.db.QueryRowxContext(ctx,
		`SELECT watermark FROM cursors WHERE address = $1 AND event_kind = $2`,
		address, eventKind,
	).Scan(&watermark)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get cursor: %w", err)
	}

	return watermark, true, nil
}

// FilterNew returns the subset of ids not already recorded for
// (address, eventKind), preserving input order.
func (s *Store) FilterNew(ctx context.Context, address, eventKind string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx,
		`SELECT external_id FROM seen_keys
		 WHERE address = $1 AND event_kind = $2 AND external_id = ANY($3)`,
		address, eventKind, pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("filter seen keys: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen key: %w", err)
		}
		seen[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen keys: %w", err)
	}

	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

// Commit marks ids as seen and advances the cursor in one transaction. The
// watermark never moves backwards: a lower cursor value is a no-op on the
// existing row.
func (s *Store) Commit(ctx context.Context, address, eventKind string, cursor time.Time, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO seen_keys (address, event_kind, external_id)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (address, event_kind, external_id) DO NOTHING`,
			address, eventKind, id,
		)
		if err != nil {
			return fmt.Errorf("insert seen key: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cursors (address, event_kind, watermark, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (address, event_kind) DO UPDATE
		 SET watermark = GREATEST(cursors.watermark, EXCLUDED.watermark), updated_at = now()`,
		address, eventKind, cursor,
	)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpsertAddress adds an address to the watchlist or updates its role. An
// existing VIP is never demoted.
func (s *Store) UpsertAddress(ctx context.Context, address, role, promotedBy string) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO addresses (address, role, promoted_by)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (address) DO UPDATE
		 SET role = CASE WHEN addresses.role = 'vip' THEN addresses.role ELSE EXCLUDED.role END`,
		address, role, promotedBy,
	)
	if err != nil {
		return fmt.Errorf("upsert address: %w", err)
	}
	return nil
}

// ListAddresses returns the full watchlist.
func (s *Store) ListAddresses(ctx context.Context) ([]AddressRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var records []AddressRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT address, role, promoted_by, needs_lookback, added_at FROM addresses ORDER BY added_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	return records, nil
}

// PromoteVIPs writes the cluster audit row and upgrades the member addresses
// to VIP in one transaction. Addresses already VIP keep their original
// promoted_by. Returns the addresses whose role actually changed.
func (s *Store) PromoteVIPs(ctx context.Context, cluster ClusterRecord, addresses []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin promotion tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO clusters (id, token, direction, score, total_notional, members, window_start, window_end)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		cluster.ID, cluster.Token, cluster.Direction, cluster.Score,
		cluster.TotalNotional, pq.Array(cluster.Members), cluster.WindowStart, cluster.WindowEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("insert cluster: %w", err)
	}

	var promoted []string
	for _, addr := range addresses {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO addresses (address, role, promoted_by, needs_lookback)
			 VALUES ($1, 'vip', 'cluster', TRUE)
			 ON CONFLICT (address) DO NOTHING`,
			addr,
		)
		if err != nil {
			return nil, fmt.Errorf("insert promoted address: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE addresses
			 SET role = 'vip', promoted_by = 'cluster', needs_lookback = TRUE
			 WHERE address = $1 AND role <> 'vip'`,
			addr,
		)
		if err != nil {
			return nil, fmt.Errorf("promote address: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			promoted = append(promoted, addr)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promotion tx: %w", err)
	}

	return promoted, nil
}

// ClearLookback resets the deep-lookback flag after the VIP history backfill
// completes.
func (s *Store) ClearLookback(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE addresses SET needs_lookback = FALSE WHERE address = $1`,
		address,
	)
	if err != nil {
		return fmt.Errorf("clear lookback: %w", err)
	}
	return nil
}

// GetBaseline returns the trailing trade notionals recorded for a wallet.
func (s *Store) GetBaseline(ctx context.Context, address string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var notionals pq.Float64Array
	err := s.db.QueryRowxContext(ctx,
		`SELECT notionals FROM baselines WHERE address = $1`,
		address,
	).Scan(&notionals)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}

	return []float64(notionals), nil
}

// SaveBaseline replaces the trailing notionals for a wallet.
func (s *Store) SaveBaseline(ctx context.Context, address string, notionals []float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO baselines (address, notionals, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (address) DO UPDATE SET notionals = EXCLUDED.notionals, updated_at = now()`,
		address, pq.Array(notionals),
	)
	if err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}

// LoadPositions returns all persisted position sizes.
func (s *Store) LoadPositions(ctx context.Context) ([]PositionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var records []PositionRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT address, token, size FROM positions`,
	)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	return records, nil
}

// SavePositions upserts position sizes in one transaction. Zero-size rows
// are deleted to keep the table small.
func (s *Store) SavePositions(ctx context.Context, records []PositionRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin positions tx: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if rec.Size == 0 {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM positions WHERE address = $1 AND token = $2`,
				rec.Address, rec.Token,
			)
			if err != nil {
				return fmt.Errorf("delete flat position: %w", err)
			}
			continue
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO positions (address, token, size, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (address, token) DO UPDATE SET size = EXCLUDED.size, updated_at = now()`,
			rec.Address, rec.Token, rec.Size,
		)
		if err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit positions tx: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
