package providers

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chenyanchen/apporch"
)

// SQLConn is the part of *pgxpool.Pool the database resource uses.
type SQLConn interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close()
}

type DatabaseOptions struct {
	DSN string `json:"dsn"`
	// Migrations run in order during pre-migrate. They run again on every
	// deploy, so they must be idempotent.
	Migrations []string `json:"migrations,omitempty"`
}

// Database verifies a PostgreSQL database is reachable and applies
// migrations before the release is deployed.
type Database struct {
	opts    DatabaseOptions
	connect func(ctx context.Context, dsn string) (SQLConn, error)
	conn    SQLConn
}

func newDatabase(opts DatabaseOptions, connect func(ctx context.Context, dsn string) (SQLConn, error)) (*Database, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("%w: dsn is empty", apporch.ErrInvalidArgument)
	}
	if _, err := pgxpool.ParseConfig(opts.DSN); err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	return &Database{opts: opts, connect: connect}, nil
}

func (d *Database) Options() DatabaseOptions { return d.opts }

func (d *Database) RunPhase(ctx context.Context, phase apporch.Phase, app apporch.Application) error {
	if phase != apporch.PhasePreMigrate {
		return nil
	}
	if d.conn == nil {
		conn, err := d.connect(ctx, d.opts.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		d.conn = conn
	}
	if err := d.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	for i, stmt := range d.opts.Migrations {
		tag, err := d.conn.Exec(ctx, stmt)
		if err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
		glog.V(3).Infof("deployment %s: migration %d: %s", app.Name(), i, tag.String())
	}
	return nil
}

// Close releases the connection pool. The next pre-migrate reconnects.
func (d *Database) Close() error {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	return nil
}
