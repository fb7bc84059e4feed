package pgxstore

// schema mirrors the store/postgres migrations so both backends can share
// one database.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pointledger_accounts (
    user_id    TEXT PRIMARY KEY,
    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0 AND balance <= 1000000),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS pointledger_transactions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL REFERENCES pointledger_accounts (user_id),
    kind              TEXT NOT NULL CHECK (kind IN ('PURCHASE', 'USE', 'REFUND')),
    amount            BIGINT NOT NULL CHECK (amount > 0),
    description       TEXT NOT NULL DEFAULT '',
    reference         TEXT NOT NULL DEFAULT '',
    resulting_balance BIGINT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_pointledger_tx_user_created ON pointledger_transactions (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_pointledger_tx_user_kind ON pointledger_transactions (user_id, kind)`,
	`CREATE TABLE IF NOT EXISTS pointledger_subscriptions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    plan_type         TEXT NOT NULL,
    status            TEXT NOT NULL,
    monthly_cost      BIGINT NOT NULL,
    start_date        TIMESTAMPTZ NOT NULL,
    end_date          TIMESTAMPTZ NOT NULL,
    next_billing_date TIMESTAMPTZ NOT NULL,
    auto_renewal      BOOLEAN NOT NULL DEFAULT TRUE,
    failed_attempts   INT NOT NULL DEFAULT 0,
    cancel_reason     TEXT NOT NULL DEFAULT '',
    canceled_at       TIMESTAMPTZ,
    version           BIGINT NOT NULL DEFAULT 1,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_pointledger_subs_one_live ON pointledger_subscriptions (user_id) WHERE status IN ('ACTIVE', 'SUSPENDED')`,
	`CREATE INDEX IF NOT EXISTS idx_pointledger_subs_user_created ON pointledger_subscriptions (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_pointledger_subs_billing ON pointledger_subscriptions (status, next_billing_date)`,
	`CREATE INDEX IF NOT EXISTS idx_pointledger_subs_end ON pointledger_subscriptions (status, end_date)`,
}
