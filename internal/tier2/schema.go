package tier2

// schema is the SQLite DDL for the structured digest index: an explicit
// index per query axis, IF NOT EXISTS everywhere so Open is idempotent.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS digests (
	id            TEXT PRIMARY KEY,
	ci_id         TEXT NOT NULL,
	period_id     TEXT NOT NULL,
	period_type   TEXT NOT NULL CHECK (period_type IN ('weekly', 'monthly')),
	theme         TEXT,
	content       TEXT NOT NULL,
	source_ids    TEXT NOT NULL DEFAULT '[]',
	created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_digests_ci_id ON digests(ci_id);
CREATE INDEX IF NOT EXISTS idx_digests_period ON digests(ci_id, period_id);
CREATE INDEX IF NOT EXISTS idx_digests_theme ON digests(ci_id, theme);

CREATE TABLE IF NOT EXISTS digest_keywords (
	digest_id TEXT NOT NULL,
	keyword   TEXT NOT NULL,
	FOREIGN KEY (digest_id) REFERENCES digests(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_digest_keywords_keyword ON digest_keywords(keyword);
CREATE INDEX IF NOT EXISTS idx_digest_keywords_digest ON digest_keywords(digest_id);
`
