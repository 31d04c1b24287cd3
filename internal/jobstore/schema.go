package jobstore

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS input_rows (
	id                    TEXT PRIMARY KEY,
	job_id                TEXT NOT NULL REFERENCES jobs(id),
	row_index             INTEGER NOT NULL,
	bezeichnung           TEXT NOT NULL,
	referenzeinheit       TEXT NOT NULL,
	produktinformationen  TEXT NOT NULL DEFAULT '',
	scope                 TEXT NOT NULL DEFAULT '',
	kategorie             TEXT NOT NULL DEFAULT '',
	unterkategorie        TEXT NOT NULL DEFAULT '',
	region                TEXT NOT NULL DEFAULT '',
	referenzjahr          TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'pending',
	error_message         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_input_rows_job ON input_rows(job_id);
CREATE INDEX IF NOT EXISTS idx_input_rows_status ON input_rows(job_id, status);

CREATE TABLE IF NOT EXISTS row_candidates (
	row_id       TEXT PRIMARY KEY REFERENCES input_rows(id),
	candidates_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS row_results (
	row_id          TEXT PRIMARY KEY REFERENCES input_rows(id),
	decision_type   TEXT NOT NULL,
	selected_uuid   TEXT NOT NULL DEFAULT '',
	biogenic_t      REAL NOT NULL,
	common_t        REAL NOT NULL,
	beschreibung    TEXT NOT NULL,
	quelle          TEXT NOT NULL,
	detailed_calc   TEXT NOT NULL,
	components_json TEXT NOT NULL DEFAULT ''
);
`
