package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pg          *pgxpool.Pool
	pingTimeout time.Duration
	log         *slog.Logger
}

func New(pool *pgxpool.Pool, pingTimeout time.Duration) *Postgres {
	return &Postgres{
		pg:          pool,
		pingTimeout: pingTimeout,
		log:         slog.With("component", "db"),
	}
}

// Ping tries the connection up to three times, pingTimeout apart.
func (p *Postgres) Ping(ctx context.Context) error {
	ticker := time.NewTicker(p.pingTimeout)
	defer ticker.Stop()

	var err error
	for i := 1; i <= 3; i++ {
		// A ping against an unreachable server can hang, so each attempt
		// gets a deadline slightly shorter than the retry interval.
		pingCtx, cancel := context.WithTimeout(ctx, p.pingTimeout-10*time.Millisecond)
		err = p.pg.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		p.log.Info("ping attempt was not successful", "attempt", i, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return err
}

// IsUpAndRunning is a single ping used by the health checker.
func (p *Postgres) IsUpAndRunning(ctx context.Context) error {
	return p.pg.Ping(ctx)
}
