package ledger

const schemaVersionV1 = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	tables      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	status      TEXT NOT NULL DEFAULT 'running'
);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	table_name TEXT NOT NULL,
	stage      TEXT NOT NULL,
	action     TEXT NOT NULL,
	detail     TEXT,
	at         TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id)
);

CREATE INDEX IF NOT EXISTS idx_events_table_stage ON events(table_name, stage, id);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, id);
`
