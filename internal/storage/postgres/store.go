package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS peg_keepers (
	chain_id BIGINT NOT NULL,
	keeper_address TEXT NOT NULL,
	first_seen_block BIGINT NOT NULL,
	last_seen_block BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, keeper_address)
);

CREATE TABLE IF NOT EXISTS peg_keeper_actions (
	chain_id BIGINT NOT NULL,
	keeper_address TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	tx_hash TEXT NOT NULL,
	log_index BIGINT NOT NULL,
	action TEXT NOT NULL,
	amount NUMERIC(78, 0) NOT NULL,
	block_ts TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, tx_hash, log_index)
);

CREATE TABLE IF NOT EXISTS peg_keeper_window_metrics (
	chain_id BIGINT NOT NULL,
	keeper_address TEXT NOT NULL,
	window_size_seconds BIGINT NOT NULL,
	window_start_ts TIMESTAMPTZ NOT NULL,
	window_end_ts TIMESTAMPTZ NOT NULL,
	provide_count BIGINT NOT NULL,
	withdraw_count BIGINT NOT NULL,
	provided NUMERIC NOT NULL,
	withdrawn NUMERIC NOT NULL,
	net_debt_change NUMERIC NOT NULL,
	profit_lp NUMERIC NOT NULL,
	debt_at_end NUMERIC,
	turnover_rate NUMERIC,
	debt_method TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, keeper_address, window_size_seconds, window_start_ts)
);

CREATE TABLE IF NOT EXISTS indexer_state (
	name TEXT PRIMARY KEY,
	last_processed_ts BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for keeper actions and metrics.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertKeepers inserts or widens the seen block range of keepers.
func (s *Store) UpsertKeepers(ctx context.Context, keepers []model.Keeper) error {
	if len(keepers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, keeper := range keepers {
		batch.Queue(`
			INSERT INTO peg_keepers (
				chain_id, keeper_address, first_seen_block, last_seen_block, created_at, updated_at
			) VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (chain_id, keeper_address)
			DO UPDATE SET
				first_seen_block = LEAST(peg_keepers.first_seen_block, EXCLUDED.first_seen_block),
				last_seen_block = GREATEST(peg_keepers.last_seen_block, EXCLUDED.last_seen_block),
				updated_at = now()
		`,
			int64(keeper.ChainID),
			keeper.Address,
			int64(keeper.FirstSeenBlock),
			int64(keeper.LastSeenBlock),
		)
	}
	return s.sendBatch(ctx, batch, len(keepers))
}

// InsertKeeperActions stores Provide and Withdraw events. Replays of the
// same log are ignored.
func (s *Store) InsertKeeperActions(ctx context.Context, actions []model.KeeperAction) error {
	if len(actions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, action := range actions {
		batch.Queue(`
			INSERT INTO peg_keeper_actions (
				chain_id, keeper_address, block_number, tx_hash, log_index, action, amount, block_ts, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			int64(action.ChainID),
			action.Keeper,
			int64(action.BlockNumber),
			action.TxHash,
			int64(action.LogIndex),
			action.Action,
			action.Amount,
			action.Timestamp,
		)
	}
	return s.sendBatch(ctx, batch, len(actions))
}

// UpsertKeeperWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertKeeperWindowMetrics(ctx context.Context, metrics []model.KeeperWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO peg_keeper_window_metrics (
				chain_id, keeper_address, window_size_seconds, window_start_ts, window_end_ts,
				provide_count, withdraw_count, provided, withdrawn, net_debt_change, profit_lp,
				debt_at_end, turnover_rate, debt_method, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
			ON CONFLICT (chain_id, keeper_address, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				provide_count = EXCLUDED.provide_count,
				withdraw_count = EXCLUDED.withdraw_count,
				provided = EXCLUDED.provided,
				withdrawn = EXCLUDED.withdrawn,
				net_debt_change = EXCLUDED.net_debt_change,
				profit_lp = EXCLUDED.profit_lp,
				debt_at_end = EXCLUDED.debt_at_end,
				turnover_rate = EXCLUDED.turnover_rate,
				debt_method = EXCLUDED.debt_method,
				updated_at = now()
		`,
			int64(m.ChainID),
			m.KeeperAddress,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.ProvideCount),
			int64(m.WithdrawCount),
			m.Provided,
			m.Withdrawn,
			m.NetDebtChange,
			m.ProfitLP,
			m.DebtAtEnd,
			m.TurnoverRate,
			m.DebtMethod,
		)
	}
	return s.sendBatch(ctx, batch, len(metrics))
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
