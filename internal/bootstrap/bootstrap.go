// Package bootstrap turns configuration into live stores and lockers for the binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/submission"
)

// Store is an opened exam store. SQL is set for the sqlite and postgres
// drivers only; the event log lives there.
type Store struct {
	exam.Store
	SQL   *sql.DB
	Close func()
}

func OpenStore(ctx context.Context, cfg config.DBConfig, log *zap.Logger) (*Store, error) {
	switch db.Driver(cfg.Driver) {
	case db.DriverMemory:
		log.Warn("using in-memory store; data is lost on exit")
		return &Store{Store: exam.NewMemoryStore(), Close: func() {}}, nil

	case db.DriverMongo:
		client, mdb, err := db.OpenMongo(ctx, cfg.DSN, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("mongo open: %w", err)
		}
		ms := exam.NewMongoStore(mdb)
		if err := ms.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return &Store{Store: ms, Close: func() { _ = client.Disconnect(context.Background()) }}, nil

	default:
		dbh, err := db.Open(ctx, db.Driver(cfg.Driver), cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		return &Store{
			Store: exam.NewSQLStore(dbh, cfg.Driver),
			SQL:   dbh,
			Close: func() { _ = dbh.Close() },
		}, nil
	}
}

// NewLocker returns a Redis lock when cfg.Addr is set, otherwise an
// in-process one (correct for a single replica).
func NewLocker(ctx context.Context, cfg config.RedisConfig) (submission.Locker, func(), error) {
	if cfg.Addr == "" {
		return submission.NewLocalLocker(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     50,
		MinIdleConns: 5,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return submission.NewRedisLocker(rdb), func() { _ = rdb.Close() }, nil
}
