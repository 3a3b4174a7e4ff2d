package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS kv_store (
    namespace TEXT NOT NULL,
    key       TEXT NOT NULL,
    value     JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (namespace, key)
)`

// Postgres is the durable Store. One table, one row per (namespace, key);
// upserts keep Set atomic.
type Postgres struct {
	pool      *pgxpool.Pool
	namespace string
	log       zerolog.Logger
}

func OpenPostgres(ctx context.Context, dsn, namespace string, log zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil { return nil, err }
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx2, schemaDDL); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, namespace: namespace, log: log}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Get(ctx context.Context, key string, out any) (bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE namespace=$1 AND key=$2`, p.namespace, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) { return false, nil }
	if err != nil { return false, err }
	if out == nil { return true, nil }
	return true, json.Unmarshal(raw, out)
}

func (p *Postgres) Set(ctx context.Context, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil { return err }
	_, err = p.pool.Exec(ctx, `
		INSERT INTO kv_store(namespace, key, value, updated_at) VALUES($1,$2,$3,now())
		ON CONFLICT (namespace, key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`,
		p.namespace, key, b)
	return err
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM kv_store WHERE namespace=$1 AND key=$2`, p.namespace, key)
	return err
}

func (p *Postgres) ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key FROM kv_store WHERE namespace=$1 AND key LIKE $2 || '%' ORDER BY key`, p.namespace, prefix)
	if err != nil { return nil, err }
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil { return nil, err }
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM kv_store WHERE namespace=$1`, p.namespace)
	return err
}
