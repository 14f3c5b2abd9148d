package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dexterity/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchange_logs (
	chain_id        BIGINT  NOT NULL,
	block_number    BIGINT  NOT NULL,
	block_hash      TEXT    NOT NULL,
	tx_hash         TEXT    NOT NULL,
	tx_index        BIGINT  NOT NULL,
	log_index       BIGINT  NOT NULL,
	address         TEXT    NOT NULL,
	topic0          TEXT    NOT NULL,
	topics          TEXT[]  NOT NULL,
	data            TEXT    NOT NULL,
	removed         BOOLEAN NOT NULL DEFAULT false,
	block_timestamp BIGINT  NOT NULL DEFAULT 0,
	ingested_at     TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (chain_id, tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS exchange_logs_event_idx
	ON exchange_logs (chain_id, address, topic0, block_number, log_index);
CREATE TABLE IF NOT EXISTS indexer_state (
	name                 TEXT        PRIMARY KEY,
	last_processed_block BIGINT      NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store persists indexed exchange logs and indexer checkpoints.
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

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// PutLogBatch upserts log records. Address, tx hash and topics are stored lower-case.
func (s *Store) PutLogBatch(ctx context.Context, logs []model.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, log := range logs {
		topics := make([]string, len(log.Topics))
		for i, topic := range log.Topics {
			topics[i] = strings.ToLower(topic)
		}
		batch.Queue(`
			INSERT INTO exchange_logs (
				chain_id, block_number, block_hash, tx_hash, tx_index, log_index,
				address, topic0, topics, data, removed, block_timestamp, ingested_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (chain_id, tx_hash, log_index)
			DO UPDATE SET
				block_number = EXCLUDED.block_number,
				block_hash = EXCLUDED.block_hash,
				removed = EXCLUDED.removed,
				block_timestamp = EXCLUDED.block_timestamp,
				ingested_at = EXCLUDED.ingested_at
		`,
			int64(log.ChainID),
			int64(log.BlockNumber),
			strings.ToLower(log.BlockHash),
			strings.ToLower(log.TxHash),
			int64(log.TxIndex),
			int64(log.LogIndex),
			strings.ToLower(log.Address),
			strings.ToLower(log.Topic0()),
			topics,
			log.Data,
			log.Removed,
			int64(log.Timestamp),
			log.IngestedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range logs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// QueryLogs returns the logs of one contract and event signature from fromBlock on,
// ordered by block and log index.
func (s *Store) QueryLogs(ctx context.Context, chainID uint64, address common.Address, topic0 common.Hash, fromBlock uint64) ([]model.LogRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, block_number, block_hash, tx_hash, tx_index, log_index,
			address, topics, data, removed, block_timestamp, ingested_at
		FROM exchange_logs
		WHERE chain_id = $1 AND address = $2 AND topic0 = $3 AND block_number >= $4
		ORDER BY block_number, log_index
	`, int64(chainID), strings.ToLower(address.Hex()), strings.ToLower(topic0.Hex()), int64(fromBlock))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]model.LogRecord, 0)
	for rows.Next() {
		var record model.LogRecord
		var chain, block, txIndex, logIndex, timestamp int64
		if err := rows.Scan(
			&chain, &block, &record.BlockHash, &record.TxHash, &txIndex, &logIndex,
			&record.Address, &record.Topics, &record.Data, &record.Removed, &timestamp, &record.IngestedAt,
		); err != nil {
			return nil, err
		}
		record.ChainID = uint64(chain)
		record.BlockNumber = uint64(block)
		record.TxIndex = uint64(txIndex)
		record.LogIndex = uint64(logIndex)
		record.Timestamp = uint64(timestamp)
		records = append(records, record)
	}
	return records, rows.Err()
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}
