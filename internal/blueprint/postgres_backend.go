package blueprint

import "encoding/json"

func (s *Store) ensureSchema() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS blueprints (
  id TEXT PRIMARY KEY,
  version INTEGER NOT NULL DEFAULT 1,
  data JSONB NOT NULL
);
`)
	})
	return s.schemaErr
}

func (s *Store) getDB(id string) (Blueprint, bool) {
	if err := s.ensureSchema(); err != nil {
		return Blueprint{}, false
	}
	var raw []byte
	row := s.db.QueryRow(`SELECT data FROM blueprints WHERE id = $1`, id)
	if err := row.Scan(&raw); err != nil {
		return Blueprint{}, false
	}
	var b Blueprint
	if err := json.Unmarshal(raw, &b); err != nil {
		return Blueprint{}, false
	}
	return normalize(b), true
}

func (s *Store) putDB(b Blueprint) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
INSERT INTO blueprints (id, version, data)
VALUES ($1, $2, $3)
ON CONFLICT (id)
DO UPDATE SET version = EXCLUDED.version, data = EXCLUDED.data`,
		b.ID, b.Version, raw)
	return err
}

func (s *Store) removeDB(id string) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM blueprints WHERE id = $1`, id)
	return err
}

func (s *Store) listDB() []*Blueprint {
	if err := s.ensureSchema(); err != nil {
		return nil
	}
	rows, err := s.db.Query(`SELECT data FROM blueprints ORDER BY id`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	out := make([]*Blueprint, 0, 32)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		var b Blueprint
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		n := normalize(b)
		out = append(out, n.Clone())
	}
	return out
}
