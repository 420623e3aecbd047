package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mselser95/binary-arb/pkg/types"
	"go.uber.org/zap"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Timestamps are unix milliseconds so both engines share one schema.
const schema = `
CREATE TABLE IF NOT EXISTS markets (
	id            TEXT PRIMARY KEY,
	slug          TEXT NOT NULL DEFAULT '',
	question      TEXT NOT NULL DEFAULT '',
	yes_token_id  TEXT NOT NULL,
	no_token_id   TEXT NOT NULL,
	status        TEXT NOT NULL,
	discovered_at BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS orders (
	client_id      TEXT PRIMARY KEY,
	id             TEXT NOT NULL DEFAULT '',
	cycle_id       TEXT NOT NULL,
	market_id      TEXT NOT NULL,
	token_id       TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	side           TEXT NOT NULL,
	role           TEXT NOT NULL,
	price          DOUBLE PRECISION NOT NULL,
	size           DOUBLE PRECISION NOT NULL,
	filled_size    DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_fill_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	fees           DOUBLE PRECISION NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	latency_ms     BIGINT NOT NULL DEFAULT 0,
	placed_at      BIGINT NOT NULL DEFAULT 0,
	updated_at     BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_orders_cycle ON orders(cycle_id);

CREATE TABLE IF NOT EXISTS cycles (
	id           TEXT PRIMARY KEY,
	market_id    TEXT NOT NULL,
	direction    TEXT NOT NULL,
	state        TEXT NOT NULL,
	realized_pnl DOUBLE PRECISION,
	payload      TEXT NOT NULL,
	created_at   BIGINT NOT NULL,
	updated_at   BIGINT NOT NULL,
	closed_at    BIGINT
);

CREATE INDEX IF NOT EXISTS idx_cycles_state ON cycles(state);
CREATE INDEX IF NOT EXISTS idx_cycles_created ON cycles(created_at);

CREATE TABLE IF NOT EXISTS risk_ledger (
	id                 INTEGER PRIMARY KEY,
	session_pnl        DOUBLE PRECISION NOT NULL,
	daily_pnl          DOUBLE PRECISION NOT NULL,
	day                TEXT NOT NULL,
	consecutive_losses INTEGER NOT NULL,
	open_exposure      DOUBLE PRECISION NOT NULL,
	cycles_recorded    INTEGER NOT NULL,
	updated_at         BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS circuit_breaker (
	id        INTEGER PRIMARY KEY,
	status    TEXT NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	opened_at BIGINT NOT NULL DEFAULT 0,
	trips     INTEGER NOT NULL DEFAULT 0
);
`

const (
	upsertMarketQuery = `
		INSERT INTO markets (id, slug, question, yes_token_id, no_token_id, status, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug,
			question = excluded.question,
			status = excluded.status`

	upsertOrderQuery = `
		INSERT INTO orders (
			client_id, id, cycle_id, market_id, token_id, outcome, side, role,
			price, size, filled_size, avg_fill_price, fees, status, latency_ms,
			placed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			id = excluded.id,
			filled_size = excluded.filled_size,
			avg_fill_price = excluded.avg_fill_price,
			fees = excluded.fees,
			status = excluded.status,
			latency_ms = excluded.latency_ms,
			placed_at = excluded.placed_at,
			updated_at = excluded.updated_at`

	upsertCycleQuery = `
		INSERT INTO cycles (id, market_id, direction, state, realized_pnl, payload, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			realized_pnl = excluded.realized_pnl,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at`

	upsertLedgerQuery = `
		INSERT INTO risk_ledger (id, session_pnl, daily_pnl, day, consecutive_losses, open_exposure, cycles_recorded, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			session_pnl = excluded.session_pnl,
			daily_pnl = excluded.daily_pnl,
			day = excluded.day,
			consecutive_losses = excluded.consecutive_losses,
			open_exposure = excluded.open_exposure,
			cycles_recorded = excluded.cycles_recorded,
			updated_at = excluded.updated_at`

	upsertBreakerQuery = `
		INSERT INTO circuit_breaker (id, status, reason, opened_at, trips)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			opened_at = excluded.opened_at,
			trips = excluded.trips`

	orderColumns = `client_id, id, cycle_id, market_id, token_id, outcome, side, role,
		price, size, filled_size, avg_fill_price, fees, status, latency_ms, placed_at, updated_at`
)

// SQLStorage implements Store on database/sql. SQLite and PostgreSQL share
// the queries; placeholders are rebound per dialect.
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

func newSQLStorage(db *sql.DB, d dialect, logger *zap.Logger) *SQLStorage {
	return &SQLStorage{db: db, dialect: d, logger: logger}
}

func (s *SQLStorage) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *SQLStorage) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStorage) UpsertMarket(ctx context.Context, market types.Market) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsertMarketQuery),
		market.ID,
		market.Slug,
		market.Question,
		market.YesTokenID,
		market.NoTokenID,
		string(market.Status),
		toMillis(market.DiscoveredAt),
	)
	if err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}
	return nil
}

func (s *SQLStorage) UpsertOrder(ctx context.Context, order *types.Order) error {
	return s.upsertOrder(ctx, s.db, order)
}

func (s *SQLStorage) upsertOrder(ctx context.Context, ex execer, o *types.Order) error {
	_, err := ex.ExecContext(ctx, s.rebind(upsertOrderQuery),
		o.ClientID,
		o.ID,
		o.CycleID,
		o.MarketID,
		o.TokenID,
		string(o.Outcome),
		string(o.Side),
		string(o.Role),
		o.Price,
		o.Size,
		o.FilledSize,
		o.AvgFillPrice,
		o.Fees,
		string(o.Status),
		o.LatencyMS,
		toMillis(o.PlacedAt),
		toMillis(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ClientID, err)
	}
	return nil
}

func (s *SQLStorage) UpsertCycle(ctx context.Context, cycle *types.Cycle) (err error) {
	payload, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("marshal cycle: %w", err)
	}

	var closedAt sql.NullInt64
	if cycle.ClosedAt != nil {
		closedAt = sql.NullInt64{Int64: toMillis(*cycle.ClosedAt), Valid: true}
	}
	var pnl sql.NullFloat64
	if cycle.RealizedPnL != nil {
		pnl = sql.NullFloat64{Float64: *cycle.RealizedPnL, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, s.rebind(upsertCycleQuery),
		cycle.ID,
		cycle.MarketID,
		string(cycle.Direction),
		string(cycle.State),
		pnl,
		string(payload),
		toMillis(cycle.CreatedAt),
		toMillis(cycle.UpdatedAt),
		closedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cycle %s: %w", cycle.ID, err)
	}

	for _, o := range cycle.Orders() {
		if err = s.upsertOrder(ctx, tx, o); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle %s: %w", cycle.ID, err)
	}

	s.logger.Debug("cycle-stored",
		zap.String("cycle-id", cycle.ID),
		zap.String("state", string(cycle.State)),
		zap.String("backend", s.dialect.String()))

	return nil
}

func (s *SQLStorage) UpsertLedger(ctx context.Context, l types.LedgerState) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsertLedgerQuery),
		l.SessionPnL,
		l.DailyPnL,
		l.Day,
		l.ConsecutiveLosses,
		l.OpenExposure,
		l.CyclesRecorded,
		toMillis(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert ledger: %w", err)
	}
	return nil
}

func (s *SQLStorage) UpsertBreaker(ctx context.Context, b types.BreakerState) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsertBreakerQuery),
		string(b.Status),
		b.Reason,
		toMillis(b.OpenedAt),
		b.Trips,
	)
	if err != nil {
		return fmt.Errorf("upsert breaker: %w", err)
	}
	return nil
}

func (s *SQLStorage) LoadMarkets(ctx context.Context) ([]types.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slug, question, yes_token_id, no_token_id, status, discovered_at FROM markets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	var markets []types.Market
	for rows.Next() {
		var (
			m            types.Market
			status       string
			discoveredAt int64
		)
		if err := rows.Scan(&m.ID, &m.Slug, &m.Question, &m.YesTokenID, &m.NoTokenID, &status, &discoveredAt); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		m.Status = types.MarketStatus(status)
		m.DiscoveredAt = fromMillis(discoveredAt)
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate markets: %w", err)
	}

	return markets, nil
}

func (s *SQLStorage) LoadCycle(ctx context.Context, id string) (*types.Cycle, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT payload FROM cycles WHERE id = ?`), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cycle %s: %w", id, err)
	}

	return decodeCycle(payload)
}

func (s *SQLStorage) LoadOpenCycles(ctx context.Context) ([]*types.Cycle, error) {
	return s.queryCycles(ctx,
		`SELECT payload FROM cycles WHERE state NOT IN (?, ?) ORDER BY created_at ASC`,
		string(types.StateClosed), string(types.StateAborted))
}

func (s *SQLStorage) LoadRecentCycles(ctx context.Context, limit int) ([]*types.Cycle, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryCycles(ctx, `SELECT payload FROM cycles ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *SQLStorage) queryCycles(ctx context.Context, query string, args ...any) ([]*types.Cycle, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*types.Cycle
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c, err := decodeCycle(payload)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}

	return cycles, nil
}

func decodeCycle(payload string) (*types.Cycle, error) {
	var c types.Cycle
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decode cycle: %w", err)
	}
	return &c, nil
}

func (s *SQLStorage) LoadOrders(ctx context.Context, cycleID string) ([]*types.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+orderColumns+` FROM orders WHERE cycle_id = ? ORDER BY placed_at ASC`), cycleID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*types.Order
	for rows.Next() {
		var (
			o                              types.Order
			outcome, side, role, status    string
			placedAt, updatedAt, latencyMS int64
		)
		err := rows.Scan(&o.ClientID, &o.ID, &o.CycleID, &o.MarketID, &o.TokenID,
			&outcome, &side, &role, &o.Price, &o.Size, &o.FilledSize, &o.AvgFillPrice,
			&o.Fees, &status, &latencyMS, &placedAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Outcome = types.Outcome(outcome)
		o.Side = types.Side(side)
		o.Role = types.OrderRole(role)
		o.Status = types.OrderStatus(status)
		o.LatencyMS = latencyMS
		o.PlacedAt = fromMillis(placedAt)
		o.UpdatedAt = fromMillis(updatedAt)
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return orders, nil
}

func (s *SQLStorage) LoadLedger(ctx context.Context) (*types.LedgerState, error) {
	var (
		l         types.LedgerState
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_pnl, daily_pnl, day, consecutive_losses, open_exposure, cycles_recorded, updated_at
		 FROM risk_ledger WHERE id = 1`).
		Scan(&l.SessionPnL, &l.DailyPnL, &l.Day, &l.ConsecutiveLosses, &l.OpenExposure, &l.CyclesRecorded, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	l.UpdatedAt = fromMillis(updatedAt)

	return &l, nil
}

func (s *SQLStorage) LoadBreaker(ctx context.Context) (*types.BreakerState, error) {
	var (
		b        types.BreakerState
		status   string
		openedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, reason, opened_at, trips FROM circuit_breaker WHERE id = 1`).
		Scan(&status, &b.Reason, &openedAt, &b.Trips)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query breaker: %w", err)
	}
	b.Status = types.BreakerStatus(status)
	b.OpenedAt = fromMillis(openedAt)

	return &b, nil
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	s.logger.Info("closing-sql-storage", zap.String("backend", s.dialect.String()))
	return s.db.Close()
}
