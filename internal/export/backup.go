package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/PolarisBioLab/stemtrack/internal/blob"
	"go.uber.org/zap"
)

const (
	defaultBackupRoot = "backups"
	backupStampLayout = "20060102_150405"
)

// SnapshotConfig describes the sources a backup snapshot copies from.
type SnapshotConfig struct {
	// Root is the directory backups are created under, "backups" by default.
	Root string
	// DatabasePath is the SQLite file to copy. Missing files are skipped so a
	// fresh deployment can still snapshot its blobs.
	DatabasePath string
	// Blobs is the attachment store to copy, optional.
	Blobs blob.Store
	Clock func() time.Time
	// Logger records per-blob copy failures, which do not abort the snapshot.
	Logger *zap.Logger
}

// Snapshot copies the database file and every stored blob into a fresh
// backup_YYYYMMDD_HHMMSS directory and returns its path. Blob copy failures
// are logged and skipped so one unreadable object cannot sink the backup.
func Snapshot(ctx context.Context, cfg SnapshotConfig) (string, error) {
	root := cfg.Root
	if root == "" {
		root = defaultBackupRoot
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	outDir := filepath.Join(root, "backup_"+clock().UTC().Format(backupStampLayout))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("export: create backup dir: %w", err)
	}

	if cfg.DatabasePath != "" {
		if err := copyDatabaseFile(cfg.DatabasePath, outDir); err != nil {
			return "", err
		}
	}
	if cfg.Blobs != nil {
		if err := copyBlobs(ctx, cfg.Blobs, outDir, logger); err != nil {
			return "", err
		}
	}
	return outDir, nil
}

func copyDatabaseFile(sourcePath, outDir string) error {
	source, err := os.Open(sourcePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("export: open database file: %w", err)
	}
	defer source.Close()

	target, err := os.Create(filepath.Join(outDir, filepath.Base(sourcePath)))
	if err != nil {
		return fmt.Errorf("export: create database copy: %w", err)
	}
	defer target.Close()

	if _, err := io.Copy(target, source); err != nil {
		return fmt.Errorf("export: copy database file: %w", err)
	}
	return nil
}

func copyBlobs(ctx context.Context, store blob.Store, outDir string, logger *zap.Logger) error {
	infos, err := store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("export: list blobs: %w", err)
	}
	for _, info := range infos {
		relative := filepath.FromSlash(info.Key)
		if !filepath.IsLocal(relative) {
			logger.Warn("skipping blob with unsafe key", zap.String("key", info.Key))
			continue
		}
		if err := copyBlob(ctx, store, info.Key, filepath.Join(outDir, relative)); err != nil {
			logger.Warn("skipping unreadable blob",
				zap.String("key", info.Key),
				zap.Error(err))
		}
	}
	return nil
}

func copyBlob(ctx context.Context, store blob.Store, key, targetPath string) error {
	_, reader, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return err
	}
	target, err := os.Create(targetPath)
	if err != nil {
		return err
	}
	defer target.Close()

	if _, err := io.Copy(target, reader); err != nil {
		return err
	}
	return nil
}
