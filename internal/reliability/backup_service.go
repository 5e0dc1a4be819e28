// Package reliability snapshots the databases to object storage and keeps
// the data directory healthy.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/aristath/touchline/internal/events"
	"github.com/rs/zerolog"
)

const (
	backupPrefix     = "touchline-backup-"
	backupTimeLayout = "2006-01-02-150405"
	minBackupsKept   = 3
)

// BackupMetadata is written into every archive as backup-metadata.json.
type BackupMetadata struct {
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Databases []DatabaseBackup `json:"databases"`
}

// DatabaseBackup describes one snapshot inside an archive.
type DatabaseBackup struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo is a stored archive.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  float64   `json:"age_hours"`
}

// BackupService snapshots databases into a tar.gz and uploads it.
type BackupService struct {
	store   ObjectStore
	dbs     []*database.DB
	events  *events.Manager
	version string
	now     func() time.Time
	log     zerolog.Logger
}

// NewBackupService creates a backup service. events may be nil.
func NewBackupService(store ObjectStore, dbs []*database.DB, em *events.Manager, version string, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:   store,
		dbs:     dbs,
		events:  em,
		version: version,
		now:     time.Now,
		log:     log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUpload snapshots every database, archives the snapshots and
// uploads the archive. It returns the object key.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	start := s.now()

	staging, err := os.MkdirTemp("", "touchline-backup-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	meta := BackupMetadata{Timestamp: start.UTC(), Version: s.version}
	for _, db := range s.dbs {
		if db == nil {
			continue
		}
		entry, err := s.snapshot(ctx, db, staging)
		if err != nil {
			return "", err
		}
		meta.Databases = append(meta.Databases, *entry)
	}
	if len(meta.Databases) == 0 {
		return "", fmt.Errorf("no databases to back up")
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode backup metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "backup-metadata.json"), metaBytes, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup metadata: %w", err)
	}

	key := backupPrefix + start.UTC().Format(backupTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(staging, key)
	if err := createArchive(archivePath, staging, meta); err != nil {
		return "", err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}

	if err := s.store.Upload(ctx, key, f); err != nil {
		return "", err
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Int("databases", len(meta.Databases)).
		Dur("duration", s.now().Sub(start)).
		Msg("Backup uploaded")

	if s.events != nil {
		s.events.Emit(events.BackupCompleted, "reliability", map[string]interface{}{
			"key":        key,
			"size_bytes": info.Size(),
			"databases":  len(meta.Databases),
		})
	}
	return key, nil
}

func (s *BackupService) snapshot(ctx context.Context, db *database.DB, dir string) (*DatabaseBackup, error) {
	filename := db.Name() + ".db"
	dest := filepath.Join(dir, filename)
	if err := db.SnapshotTo(ctx, dest); err != nil {
		return nil, err
	}

	sum, size, err := checksum(dest)
	if err != nil {
		return nil, err
	}
	return &DatabaseBackup{Name: db.Name(), Filename: filename, SizeBytes: size, Checksum: sum}, nil
}

// ListBackups returns stored archives, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, err
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseBackupKey(obj.Key)
		if !ok {
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
			AgeHours:  now.Sub(ts).Hours(),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes archives older than retentionDays, always keeping
// the newest three. A retentionDays of zero disables rotation.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsKept {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, b := range backups[minBackupsKept:] {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Warn().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Int("retention_days", retentionDays).Msg("Rotated old backups")
	}
	return deleted, nil
}

func parseBackupKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, backupPrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, backupPrefix), ".tar.gz")
	ts, err := time.Parse(backupTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func checksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), n, nil
}

func createArchive(archivePath, dir string, meta BackupMetadata) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	files := []string{"backup-metadata.json"}
	for _, d := range meta.Databases {
		files = append(files, d.Filename)
	}
	for _, name := range files {
		if err := addFileToArchive(tw, filepath.Join(dir, name), name); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", name, err)
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return nil
}
