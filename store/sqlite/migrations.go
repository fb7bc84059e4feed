package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the point ledger store (SQLite).
var Migrations = migrate.NewGroup("pointledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_pointledger_accounts",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pointledger_accounts (
    user_id    TEXT PRIMARY KEY,
    balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0 AND balance <= 1000000),
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS pointledger_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_pointledger_transactions",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pointledger_transactions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL REFERENCES pointledger_accounts (user_id),
    kind              TEXT NOT NULL CHECK (kind IN ('PURCHASE', 'USE', 'REFUND')),
    amount            INTEGER NOT NULL CHECK (amount > 0),
    description       TEXT NOT NULL DEFAULT '',
    reference         TEXT NOT NULL DEFAULT '',
    resulting_balance INTEGER NOT NULL,
    created_at        TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_pointledger_tx_user_created ON pointledger_transactions (user_id, created_at DESC);

CREATE TRIGGER IF NOT EXISTS trg_pointledger_tx_balance
AFTER INSERT ON pointledger_transactions
BEGIN
    UPDATE pointledger_accounts
       SET balance = NEW.resulting_balance, updated_at = NEW.created_at
     WHERE user_id = NEW.user_id;
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS trg_pointledger_tx_balance;
DROP TABLE IF EXISTS pointledger_transactions;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_pointledger_subscriptions",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pointledger_subscriptions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    plan_type         TEXT NOT NULL,
    status            TEXT NOT NULL,
    monthly_cost      INTEGER NOT NULL,
    start_date        TEXT NOT NULL,
    end_date          TEXT NOT NULL,
    next_billing_date TEXT NOT NULL,
    auto_renewal      INTEGER NOT NULL DEFAULT 1,
    failed_attempts   INTEGER NOT NULL DEFAULT 0,
    cancel_reason     TEXT NOT NULL DEFAULT '',
    canceled_at       TEXT,
    version           INTEGER NOT NULL DEFAULT 1,
    created_at        TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pointledger_subs_one_live ON pointledger_subscriptions (user_id) WHERE status IN ('ACTIVE', 'SUSPENDED');
CREATE INDEX IF NOT EXISTS idx_pointledger_subs_user_created ON pointledger_subscriptions (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pointledger_subs_billing ON pointledger_subscriptions (status, next_billing_date);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS pointledger_subscriptions`)
				return err
			},
		},
	)
}
