package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamgate/internal/model"
)

// PostgresConfig describes how the Postgres repository initialises its
// connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	ApplicationName string
}

// Postgres persists controller entities as JSONB documents keyed by their
// natural identifier. Entity shape lives in the model package; the database
// stores opaque documents so schema churn stays out of SQL.
type Postgres struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS streamgate_clients (
    id  TEXT PRIMARY KEY,
    doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS streamgate_profiles (
    name TEXT PRIMARY KEY,
    doc  JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS streamgate_streams (
    id  TEXT PRIMARY KEY,
    doc JSONB NOT NULL
);
`

// NewPostgres opens the pool, applies the schema, and returns the repository.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Ping verifies connectivity through the pool.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// UpsertClient validates, normalizes, and stores the client document.
func (p *Postgres) UpsertClient(client model.Client) error {
	client.Normalize()
	if err := client.Validate(); err != nil {
		return err
	}
	return p.upsert("streamgate_clients", "id", client.ID, client)
}

// GetClient loads the client with the given ID.
func (p *Postgres) GetClient(id string) (model.Client, bool) {
	var client model.Client
	if !p.get("streamgate_clients", "id", id, &client) {
		return model.Client{}, false
	}
	return client, true
}

// ListClients loads all clients ordered by ID.
func (p *Postgres) ListClients() []model.Client {
	var out []model.Client
	p.list("streamgate_clients", "id", func(doc []byte) {
		var client model.Client
		if json.Unmarshal(doc, &client) == nil {
			out = append(out, client)
		}
	})
	return out
}

// UpsertProfile validates and stores the profile document.
func (p *Postgres) UpsertProfile(profile model.PlaybackProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	return p.upsert("streamgate_profiles", "name", profile.Name, profile)
}

// GetProfile loads the named profile.
func (p *Postgres) GetProfile(name string) (model.PlaybackProfile, bool) {
	var profile model.PlaybackProfile
	if !p.get("streamgate_profiles", "name", name, &profile) {
		return model.PlaybackProfile{}, false
	}
	return profile, true
}

// ListProfiles loads all profiles ordered by name.
func (p *Postgres) ListProfiles() []model.PlaybackProfile {
	var out []model.PlaybackProfile
	p.list("streamgate_profiles", "name", func(doc []byte) {
		var profile model.PlaybackProfile
		if json.Unmarshal(doc, &profile) == nil {
			out = append(out, profile)
		}
	})
	return out
}

// UpsertStream validates and stores the stream document.
func (p *Postgres) UpsertStream(stream model.Stream) error {
	if err := stream.Validate(); err != nil {
		return err
	}
	return p.upsert("streamgate_streams", "id", stream.ID, stream)
}

// GetStream loads the stream with the given ID.
func (p *Postgres) GetStream(id string) (model.Stream, bool) {
	var stream model.Stream
	if !p.get("streamgate_streams", "id", id, &stream) {
		return model.Stream{}, false
	}
	return stream, true
}

// ListStreams loads all streams ordered by ID.
func (p *Postgres) ListStreams() []model.Stream {
	var out []model.Stream
	p.list("streamgate_streams", "id", func(doc []byte) {
		var stream model.Stream
		if json.Unmarshal(doc, &stream) == nil {
			out = append(out, stream)
		}
	})
	return out
}

// DeleteStream removes the stream row; a missing row returns
// ErrStreamNotFound.
func (p *Postgres) DeleteStream(id string) error {
	tag, err := p.pool.Exec(context.Background(),
		"DELETE FROM streamgate_streams WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete stream %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStreamNotFound
	}
	return nil
}

// Close drains the pool, bounded by the context.
func (p *Postgres) Close(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Postgres) upsert(table, keyColumn, key string, entity interface{}) error {
	doc, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s document: %w", table, err)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, doc) VALUES ($1, $2) ON CONFLICT (%s) DO UPDATE SET doc = EXCLUDED.doc",
		table, keyColumn, keyColumn)
	if _, err := p.pool.Exec(context.Background(), query, key, doc); err != nil {
		return fmt.Errorf("upsert into %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) get(table, keyColumn, key string, dest interface{}) bool {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE %s = $1", table, keyColumn)
	var doc []byte
	err := p.pool.QueryRow(context.Background(), query, key).Scan(&doc)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			// lookup failures surface as absence; the caller's Ping path
			// reports connectivity problems
			return false
		}
		return false
	}
	return json.Unmarshal(doc, dest) == nil
}

func (p *Postgres) list(table, orderColumn string, visit func(doc []byte)) {
	query := fmt.Sprintf("SELECT doc FROM %s ORDER BY %s", table, orderColumn)
	rows, err := p.pool.Query(context.Background(), query)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var doc []byte
		if rows.Scan(&doc) == nil {
			visit(doc)
		}
	}
}
