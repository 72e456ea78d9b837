package store

const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
    id           TEXT PRIMARY KEY,
    text         TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT 'ai_news',
    prior_level  TEXT NOT NULL DEFAULT '',
    evaluated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_type ON evaluations(content_type);
CREATE INDEX IF NOT EXISTS idx_evaluations_evaluated ON evaluations(evaluated_at);

CREATE TABLE IF NOT EXISTS key_persons (
    handle      TEXT PRIMARY KEY,
    appearances INTEGER NOT NULL DEFAULT 0,
    topics      TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS provider_locks (
    op           TEXT PRIMARY KEY,
    locked_until TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS measurements (
    run_id       TEXT NOT NULL,
    item_id      TEXT NOT NULL,
    prior_level  TEXT NOT NULL DEFAULT '',
    match_status TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    signature    TEXT NOT NULL DEFAULT '{}',
    measurement  TEXT NOT NULL DEFAULT '{}',
    measured_at  DATETIME NOT NULL,
    PRIMARY KEY (run_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_measurements_measured ON measurements(measured_at);
CREATE INDEX IF NOT EXISTS idx_measurements_status ON measurements(match_status);
`
