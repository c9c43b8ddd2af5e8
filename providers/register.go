package providers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/chenyanchen/apporch"
)

const (
	NamespaceRuby   = "application_ruby"
	NamespaceNodejs = "application_nodejs"

	TypeRails     = NamespaceRuby + "_rails"
	TypeNodejs    = NamespaceNodejs + "_nodejs"
	TypeDatabase  = apporch.GenericPrefix + "database"
	TypeCache     = apporch.GenericPrefix + "cache"
	TypePassenger = "passenger_apache2"
)

type config struct {
	fs        afero.Fs
	connectPG func(ctx context.Context, dsn string) (SQLConn, error)
	dialRedis func(opt *redis.Options) KeyStore
}

// Option configures Register.
type Option func(*config)

// WithFs sets the filesystem providers read and write application files on.
func WithFs(fs afero.Fs) Option {
	return func(c *config) { c.fs = fs }
}

// WithPostgresConnector replaces how application_database connects.
func WithPostgresConnector(fn func(ctx context.Context, dsn string) (SQLConn, error)) Option {
	return func(c *config) { c.connectPG = fn }
}

// WithRedisDialer replaces how application_cache connects.
func WithRedisDialer(fn func(opt *redis.Options) KeyStore) Option {
	return func(c *config) { c.dialRedis = fn }
}

// Register loads the built-in namespaces and types into reg.
func Register(reg *apporch.Registry, opts ...Option) error {
	if reg == nil {
		return fmt.Errorf("register providers: registry is nil")
	}
	cfg := config{
		fs: afero.NewOsFs(),
		connectPG: func(ctx context.Context, dsn string) (SQLConn, error) {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return nil, err
			}
			return pool, nil
		},
		dialRedis: func(opt *redis.Options) KeyStore {
			return redis.NewClient(opt)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg.AddNamespace(NamespaceRuby)
	reg.AddNamespace(NamespaceNodejs)

	if err := apporch.Register(reg, TypeRails, apporch.Definition[RailsOptions]{
		Build: func(_ context.Context, opt RailsOptions) (apporch.Resource, error) {
			return newRails(cfg.fs, opt), nil
		},
	}); err != nil {
		return err
	}
	if err := apporch.Register(reg, TypeNodejs, apporch.Definition[NodejsOptions]{
		Build: func(_ context.Context, opt NodejsOptions) (apporch.Resource, error) {
			return newNodejs(cfg.fs, opt), nil
		},
	}); err != nil {
		return err
	}
	if err := apporch.Register(reg, TypePassenger, apporch.Definition[PassengerOptions]{
		Build: func(_ context.Context, opt PassengerOptions) (apporch.Resource, error) {
			p, err := newPassenger(cfg.fs, opt)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
	}); err != nil {
		return err
	}
	if err := apporch.Register(reg, TypeDatabase, apporch.Definition[DatabaseOptions]{
		Build: func(_ context.Context, opt DatabaseOptions) (apporch.Resource, error) {
			db, err := newDatabase(opt, cfg.connectPG)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
	}); err != nil {
		return err
	}
	return apporch.Register(reg, TypeCache, apporch.Definition[CacheOptions]{
		Build: func(_ context.Context, opt CacheOptions) (apporch.Resource, error) {
			c, err := newCache(opt, cfg.dialRedis)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
}

// MustRegister panics on registration error; intended for bootstrap code paths.
func MustRegister(reg *apporch.Registry, opts ...Option) {
	if err := Register(reg, opts...); err != nil {
		panic(err)
	}
}
