package store

// schema is applied on startup. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS action_log (
	id            BIGSERIAL PRIMARY KEY,
	timestamp     TIMESTAMPTZ NOT NULL,
	email         TEXT NOT NULL,
	source_origin TEXT NOT NULL DEFAULT '',
	source_ip     TEXT NOT NULL DEFAULT '',
	result        TEXT NOT NULL CHECK (result IN ('ok', 'not_found', 'error', 'mautic_unreachable')),
	contact_id    TEXT,
	error_detail  TEXT
);
CREATE INDEX IF NOT EXISTS idx_action_log_email ON action_log (lower(email));
CREATE INDEX IF NOT EXISTS idx_action_log_result ON action_log (result);
`
