package store

// The six series plus the KV region. Opportunity upserts land as
// successive revisions keyed by (id, revision_at); executions keep one
// row per id, current-state, with the store rejecting status
// regressions.
const schema = `
CREATE TABLE IF NOT EXISTS opportunities (
    id          TEXT        NOT NULL,
    revision_at TIMESTAMPTZ NOT NULL,
    chain       TEXT        NOT NULL,
    pair        TEXT        NOT NULL,
    net_profit  NUMERIC     NOT NULL,
    rejection   TEXT        NOT NULL DEFAULT '',
    payload     JSONB       NOT NULL,
    PRIMARY KEY (id, revision_at)
);
CREATE INDEX IF NOT EXISTS opportunities_revision_at_idx ON opportunities (revision_at);

CREATE TABLE IF NOT EXISTS executions (
    id              TEXT PRIMARY KEY,
    opportunity_id  TEXT        NOT NULL,
    chain           TEXT        NOT NULL,
    pair            TEXT        NOT NULL,
    status          TEXT        NOT NULL,
    nonce           BIGINT      NOT NULL DEFAULT 0,
    expected_profit NUMERIC     NOT NULL DEFAULT 0,
    realized_profit NUMERIC,
    gas_paid        NUMERIC     NOT NULL DEFAULT 0,
    revert_reason   TEXT        NOT NULL DEFAULT '',
    reason          TEXT        NOT NULL DEFAULT '',
    tx_hashes       JSONB       NOT NULL DEFAULT '[]',
    plan            JSONB       NOT NULL DEFAULT '{}',
    started_at      TIMESTAMPTZ NOT NULL,
    ended_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS executions_status_idx ON executions (status);
CREATE INDEX IF NOT EXISTS executions_ended_at_idx ON executions (ended_at);

CREATE TABLE IF NOT EXISTS stats_snapshots (
    at             TIMESTAMPTZ PRIMARY KEY,
    total_profit   NUMERIC NOT NULL,
    profit_today   NUMERIC NOT NULL,
    total_trades   BIGINT  NOT NULL,
    winning_trades BIGINT  NOT NULL,
    win_rate       DOUBLE PRECISION NOT NULL,
    avg_profit     NUMERIC NOT NULL,
    sharpe         DOUBLE PRECISION NOT NULL,
    max_drawdown   NUMERIC NOT NULL,
    active_capital NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS stats_hourly (
    bucket         TIMESTAMPTZ PRIMARY KEY,
    total_profit   NUMERIC NOT NULL,
    profit_today   NUMERIC NOT NULL,
    total_trades   BIGINT  NOT NULL,
    winning_trades BIGINT  NOT NULL,
    win_rate       DOUBLE PRECISION NOT NULL,
    avg_profit     NUMERIC NOT NULL,
    sharpe         DOUBLE PRECISION NOT NULL,
    max_drawdown   NUMERIC NOT NULL,
    active_capital NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS gas_samples (
    chain         TEXT        NOT NULL,
    at            TIMESTAMPTZ NOT NULL,
    price_gwei    DOUBLE PRECISION NOT NULL,
    base_fee_gwei DOUBLE PRECISION NOT NULL DEFAULT 0,
    tip_gwei      DOUBLE PRECISION NOT NULL DEFAULT 0,
    block         BIGINT      NOT NULL,
    PRIMARY KEY (chain, at)
);

CREATE TABLE IF NOT EXISTS gas_5m (
    chain      TEXT        NOT NULL,
    bucket     TIMESTAMPTZ NOT NULL,
    price_gwei DOUBLE PRECISION NOT NULL,
    samples    BIGINT      NOT NULL,
    PRIMARY KEY (chain, bucket)
);

CREATE TABLE IF NOT EXISTS chain_metrics (
    chain      TEXT        NOT NULL,
    at         TIMESTAMPTZ NOT NULL,
    health     TEXT        NOT NULL,
    syncing    BOOLEAN     NOT NULL,
    peer_count BIGINT      NOT NULL,
    block      BIGINT      NOT NULL,
    latency_ms DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (chain, at)
);

CREATE TABLE IF NOT EXISTS chain_metrics_5m (
    chain      TEXT        NOT NULL,
    bucket     TIMESTAMPTZ NOT NULL,
    latency_ms DOUBLE PRECISION NOT NULL,
    samples    BIGINT      NOT NULL,
    PRIMARY KEY (chain, bucket)
);

CREATE TABLE IF NOT EXISTS alerts (
    id         BIGSERIAL PRIMARY KEY,
    severity   TEXT        NOT NULL,
    category   TEXT        NOT NULL,
    chain      TEXT        NOT NULL DEFAULT '',
    message    TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alerts_created_at_idx ON alerts (created_at);

CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
