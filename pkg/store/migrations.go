package store

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL UNIQUE,
		extraction_schema TEXT,
		proposed_schema TEXT,
		schema_validated BOOLEAN NOT NULL DEFAULT 0,
		feed_url TEXT NOT NULL DEFAULT '',
		usable BOOLEAN NOT NULL DEFAULT 0,
		refinement_attempts INTEGER NOT NULL DEFAULT 0,
		last_checked_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		last_modified_by TEXT NOT NULL DEFAULT '',
		last_modified_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id),
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		url_key TEXT NOT NULL UNIQUE,
		published_at TIMESTAMP,
		discovered_at TIMESTAMP NOT NULL,
		full_text TEXT,
		summary TEXT,
		technical_density INTEGER NOT NULL DEFAULT -1,
		reading_time INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_source ON posts(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_discovered ON posts(discovered_at)`,
	`CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS post_topics (
		post_id INTEGER NOT NULL REFERENCES posts(id),
		topic_id INTEGER NOT NULL REFERENCES topics(id),
		PRIMARY KEY (post_id, topic_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id),
		message TEXT NOT NULL,
		opened_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_source ON tickets(source_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL UNIQUE,
		extraction_schema TEXT,
		proposed_schema TEXT,
		schema_validated BOOLEAN NOT NULL DEFAULT FALSE,
		feed_url TEXT NOT NULL DEFAULT '',
		usable BOOLEAN NOT NULL DEFAULT FALSE,
		refinement_attempts INTEGER NOT NULL DEFAULT 0,
		last_checked_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		last_modified_by TEXT NOT NULL DEFAULT '',
		last_modified_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		url_key TEXT NOT NULL UNIQUE,
		published_at TIMESTAMPTZ,
		discovered_at TIMESTAMPTZ NOT NULL,
		full_text TEXT,
		summary TEXT,
		technical_density INTEGER NOT NULL DEFAULT -1,
		reading_time INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_source ON posts(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_discovered ON posts(discovered_at)`,
	`CREATE TABLE IF NOT EXISTS topics (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS post_topics (
		post_id BIGINT NOT NULL REFERENCES posts(id),
		topic_id BIGINT NOT NULL REFERENCES topics(id),
		PRIMARY KEY (post_id, topic_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		message TEXT NOT NULL,
		opened_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_source ON tickets(source_id)`,
}
