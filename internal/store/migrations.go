package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per run of the capture loop
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			engine TEXT NOT NULL,
			source TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			frames INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			inferences INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0
		)`,

		// Completed inference results; JSON columns hold detections, hands and points
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL CHECK(kind IN ('mask', 'detections', 'hands')),
			engine TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			mask_pixels INTEGER NOT NULL DEFAULT 0,
			detections TEXT NOT NULL DEFAULT '[]',
			hands TEXT NOT NULL DEFAULT '[]',
			points TEXT NOT NULL DEFAULT '[]',
			latency_ms REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,

		// Saved steering point sets
		`CREATE TABLE IF NOT EXISTS prompts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			points TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_results_session_id ON results(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_created_at ON prompts(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
