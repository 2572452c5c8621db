package store

import (
	"context"
	"fmt"
)

// Options selects and configures a store backend
type Options struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	SQLitePath    string
	PostgresURL   string
}

// Open creates the store named by opts.Driver
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.KeyPrefix,
		})
	case "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, opts.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
