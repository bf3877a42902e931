package storage

import (
	"encoding/json"
	"fmt"

	"scanbridge/bridge"
)

// ScannerCache persists the last discovery result so the bridge can answer
// status queries and match scan jobs right after a restart, before the
// first discovery has run.
type ScannerCache interface {
	SaveScanners(scanners []bridge.ScannerRecord) error
	LoadScanners() ([]bridge.ScannerRecord, error)
}

// SaveScanners replaces the cached discovery result.
func (s *SQLiteStore) SaveScanners(scanners []bridge.ScannerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin scanner cache update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scanners`); err != nil {
		return fmt.Errorf("failed to clear scanner cache: %w", err)
	}

	for _, rec := range scanners {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode scanner %s: %w", rec.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO scanners (id, record, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
			rec.ID, string(data),
		); err != nil {
			return fmt.Errorf("failed to cache scanner %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scanner cache: %w", err)
	}
	return nil
}

// LoadScanners returns the cached discovery result, possibly empty.
func (s *SQLiteStore) LoadScanners() ([]bridge.ScannerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT record FROM scanners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scanner cache: %w", err)
	}
	defer rows.Close()

	var out []bridge.ScannerRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan cached record: %w", err)
		}
		var rec bridge.ScannerRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			// A corrupt row should not poison the whole cache.
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
