package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UploadRecord is one ledger entry: a file identity (path+size+mtime) that
// was successfully delivered to the server.
type UploadRecord struct {
	Path       string
	Size       int64
	MTime      time.Time
	SHA256     string
	UploadedAt time.Time
}

// UploadLedger records completed folder-sync uploads. A file identity that
// is present in the ledger is never uploaded again, which is what makes a
// post-action of "keep" safe across restarts.
type UploadLedger interface {
	IsUploaded(path string, size int64, mtime time.Time) (bool, error)
	RecordUpload(rec UploadRecord) error
	// PruneUploads drops ledger entries older than the cutoff. Old entries
	// only matter while the original file still sits in the watch folder.
	PruneUploads(olderThan time.Time) (int64, error)
}

func (s *SQLiteStore) IsUploaded(path string, size int64, mtime time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM uploaded_files WHERE path = ? AND size = ? AND mtime_unix = ?`,
		path, size, mtime.Unix(),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query upload ledger: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordUpload(rec UploadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uploadedAt := rec.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO uploaded_files (path, size, mtime_unix, sha256, uploaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path, size, mtime_unix) DO UPDATE SET
			sha256 = excluded.sha256,
			uploaded_at = excluded.uploaded_at
	`, rec.Path, rec.Size, rec.MTime.Unix(), rec.SHA256, uploadedAt)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneUploads(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM uploaded_files WHERE uploaded_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune upload ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
