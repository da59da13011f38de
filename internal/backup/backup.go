package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/storage"
)

// DefaultKeep is how many backup archives Prune retains.
const DefaultKeep = 5

// GetDefaultBackupDir returns the directory that holds wallet backups.
func GetDefaultBackupDir() (string, error) {
	appDataDir, err := storage.GetAppDataDir()
	if err != nil {
		return "", err
	}

	backupDir := filepath.Join(appDataDir, "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	return backupDir, nil
}

// CreateBackup archives the wallet data directory into a timestamped zip.
// Only the snapshot and log files are included; the backups directory itself
// is always skipped so archives never nest.
func CreateBackup(dataDir, backupDir string) (string, error) {
	if dataDir == "" {
		var err error
		dataDir, err = storage.GetAppDataDir()
		if err != nil {
			return "", fmt.Errorf("failed to get wallet data directory: %w", err)
		}
	}

	if backupDir == "" {
		var err error
		backupDir, err = GetDefaultBackupDir()
		if err != nil {
			return "", err
		}
	}

	timestamp := time.Now().Format("20060102_150405")
	backupFile := filepath.Join(backupDir, fmt.Sprintf("wallet_backup_%s.zip", timestamp))

	zipFile, err := os.Create(backupFile)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)
	defer zipWriter.Close()

	err = filepath.Walk(dataDir, func(path string, info os.FileInfo, err error) error {
		return addToZip(path, info, err, dataDir, zipWriter)
	})
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	logger.Info("Backup created successfully: %s", backupFile)
	return backupFile, nil
}

func addToZip(path string, info os.FileInfo, err error, dataDir string, zipWriter *zip.Writer) error {
	if err != nil {
		return err
	}

	if path == dataDir {
		return nil
	}

	relPath, err := filepath.Rel(dataDir, path)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}

	if !shouldIncludeInBackup(relPath, info.IsDir()) {
		if info.IsDir() {
			logger.Debug("Skipping directory: %s", relPath)
			return filepath.SkipDir
		}
		logger.Debug("Skipping file: %s", relPath)
		return nil
	}

	if info.IsDir() {
		_, err = zipWriter.Create(relPath + "/")
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create file header: %w", err)
	}

	header.Name = relPath
	header.Method = zip.Deflate

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create file in zip: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = io.Copy(writer, file)
	if err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	logger.Debug("Added file to backup: %s", relPath)
	return nil
}

// shouldIncludeInBackup picks up the wallet snapshot and log files and skips
// everything else, the backups directory in particular.
func shouldIncludeInBackup(relPath string, isDir bool) bool {
	components := strings.Split(relPath, string(filepath.Separator))
	if len(components) == 0 {
		return false
	}

	if components[0] == "backups" {
		return false
	}

	if isDir {
		return true
	}

	return strings.HasSuffix(relPath, ".json") || strings.HasSuffix(relPath, ".log")
}

// Prune removes the oldest backup archives, keeping the newest `keep`.
func Prune(backupDir string, keep int) error {
	if backupDir == "" {
		var err error
		backupDir, err = GetDefaultBackupDir()
		if err != nil {
			return err
		}
	}
	if keep <= 0 {
		keep = DefaultKeep
	}

	archives, err := filepath.Glob(filepath.Join(backupDir, "wallet_backup_*.zip"))
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(archives) <= keep {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(archives)
	for _, stale := range archives[:len(archives)-keep] {
		if err := os.Remove(stale); err != nil {
			return fmt.Errorf("failed to remove stale backup %s: %w", stale, err)
		}
		logger.Debug("Removed stale backup: %s", stale)
	}

	return nil
}
