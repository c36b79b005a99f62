package warehouse

// The snapshot view reads from return_review, a local stand-in for the
// warehouse's review source used by sqlite/postgres runs and tests.

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS return_review (
	review_id     TEXT PRIMARY KEY,
	review_source INTEGER NOT NULL,
	review_en     TEXT NOT NULL,
	review_date   DATETIME,
	country       TEXT,
	fasin         TEXT
);

CREATE VIEW IF NOT EXISTS view_return_review_snapshot AS
	SELECT review_id, review_source, review_en, review_date, country, fasin FROM return_review;

CREATE TABLE IF NOT EXISTS return_fact_llm (
	review_id  TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_return_fact_llm_created_at ON return_fact_llm(created_at);

CREATE TABLE IF NOT EXISTS return_fact_details (
	review_id     TEXT NOT NULL,
	tag_code      TEXT NOT NULL,
	review_source INTEGER NOT NULL,
	review_en     TEXT NOT NULL,
	review_cn     TEXT NOT NULL DEFAULT '',
	sentiment     INTEGER NOT NULL DEFAULT 0,
	tag_name_cn   TEXT NOT NULL DEFAULT '',
	evidence      TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_return_fact_details_review ON return_fact_details(review_id, tag_code);

CREATE TABLE IF NOT EXISTS return_dim_tag (
	tag_code         TEXT PRIMARY KEY,
	tag_name_cn      TEXT NOT NULL DEFAULT '',
	category_code    TEXT,
	category_name_cn TEXT,
	level            INTEGER NOT NULL DEFAULT 2,
	definition       TEXT,
	boundary_note    TEXT,
	is_active        INTEGER NOT NULL DEFAULT 1,
	version          INTEGER NOT NULL DEFAULT 1,
	effective_from   DATE,
	effective_to     DATE
);
`

const postgresMigration = `
CREATE TABLE IF NOT EXISTS return_review (
	review_id     TEXT PRIMARY KEY,
	review_source INTEGER NOT NULL,
	review_en     TEXT NOT NULL,
	review_date   TIMESTAMPTZ,
	country       TEXT,
	fasin         TEXT
);

CREATE OR REPLACE VIEW view_return_review_snapshot AS
	SELECT review_id, review_source, review_en, review_date, country, fasin FROM return_review;

CREATE TABLE IF NOT EXISTS return_fact_llm (
	review_id  TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_return_fact_llm_created_at ON return_fact_llm(created_at DESC);

CREATE TABLE IF NOT EXISTS return_fact_details (
	review_id     TEXT NOT NULL,
	tag_code      TEXT NOT NULL,
	review_source INTEGER NOT NULL,
	review_en     TEXT NOT NULL,
	review_cn     TEXT NOT NULL DEFAULT '',
	sentiment     SMALLINT NOT NULL DEFAULT 0,
	tag_name_cn   TEXT NOT NULL DEFAULT '',
	evidence      TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_return_fact_details_review ON return_fact_details(review_id, tag_code);

CREATE TABLE IF NOT EXISTS return_dim_tag (
	tag_code         TEXT PRIMARY KEY,
	tag_name_cn      TEXT NOT NULL DEFAULT '',
	category_code    TEXT,
	category_name_cn TEXT,
	level            INTEGER NOT NULL DEFAULT 2,
	definition       TEXT,
	boundary_note    TEXT,
	is_active        INTEGER NOT NULL DEFAULT 1,
	version          INTEGER NOT NULL DEFAULT 1,
	effective_from   DATE,
	effective_to     DATE
);
`
