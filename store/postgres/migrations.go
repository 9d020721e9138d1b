package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the entitlement store.
var Migrations = migrate.NewGroup("entitle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_entitle_subscriptions",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_subscriptions (
    id                       TEXT PRIMARY KEY,
    user_id                  TEXT NOT NULL DEFAULT '',
    tier_id                  TEXT NOT NULL DEFAULT '',
    status                   TEXT NOT NULL DEFAULT 'none',
    cadence                  TEXT NOT NULL DEFAULT 'monthly',
    provider_customer_id     TEXT NOT NULL DEFAULT '',
    provider_subscription_id TEXT NOT NULL DEFAULT '',
    current_period_start     TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
    current_period_end       TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
    provider_updated_at      TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
    canceled_at              TIMESTAMPTZ,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_subs_user_live ON entitle_subscriptions (user_id) WHERE status != 'canceled';
CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_subs_provider ON entitle_subscriptions (provider_subscription_id) WHERE provider_subscription_id != '';
CREATE INDEX IF NOT EXISTS idx_entitle_subs_user ON entitle_subscriptions (user_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_usage_counters",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_usage_counters (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL DEFAULT '',
    action       TEXT NOT NULL DEFAULT '',
    count        BIGINT NOT NULL DEFAULT 0,
    period_start TIMESTAMPTZ NOT NULL,
    period_end   TIMESTAMPTZ NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_usage_key ON entitle_usage_counters (user_id, action, period_start);
CREATE INDEX IF NOT EXISTS idx_entitle_usage_user ON entitle_usage_counters (user_id, period_start);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_usage_counters`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_export_jobs",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_export_jobs (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL DEFAULT '',
    type            TEXT NOT NULL DEFAULT '',
    format          TEXT NOT NULL DEFAULT '',
    filters         JSONB NOT NULL DEFAULT '{}',
    fields          JSONB NOT NULL DEFAULT '[]',
    status          TEXT NOT NULL DEFAULT 'queued',
    requested_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ,
    worker_id       TEXT NOT NULL DEFAULT '',
    result_location TEXT NOT NULL DEFAULT '',
    error_reason    TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_entitle_exports_user ON entitle_export_jobs (user_id, requested_at DESC);
CREATE INDEX IF NOT EXISTS idx_entitle_exports_status ON entitle_export_jobs (status, requested_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_export_jobs`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_customers",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_customers (
    user_id     TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_customers`)
				return err
			},
		},
	)
}
