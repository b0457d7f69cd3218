package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per pipeline run
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			config TEXT NOT NULL DEFAULT '{}',
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// Results table - one row per published worker result
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			worker TEXT NOT NULL,
			seq INTEGER NOT NULL,
			frame_seq INTEGER NOT NULL,
			source TEXT NOT NULL CHECK(source IN ('inference', 'extrapolated')),
			stride INTEGER NOT NULL DEFAULT 0,
			published_ms INTEGER NOT NULL
		)`,

		// Detections table - tracked objects of a result
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			result_id INTEGER NOT NULL REFERENCES results(id) ON DELETE CASCADE,
			track_id INTEGER NOT NULL,
			class INTEGER NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			x1 REAL NOT NULL,
			y1 REAL NOT NULL,
			x2 REAL NOT NULL,
			y2 REAL NOT NULL,
			score REAL NOT NULL,
			cov_trace REAL NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_results_session_worker ON results(session_id, worker, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_result_id ON detections(result_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
