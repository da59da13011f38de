package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meridianpay/x402-wallet/internal/models"
)

// GetAppDataDir returns the application data directory
func GetAppDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	appDataDir := filepath.Join(homeDir, ".x402-wallet")
	if err := os.MkdirAll(appDataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create app data directory: %w", err)
	}

	return appDataDir, nil
}

// SnapshotPath resolves the wallet snapshot file location. A bare filename is
// placed inside the app data directory; anything with a path separator is
// used as-is so tests can point at a temp dir.
func SnapshotPath(filename string) (string, error) {
	if filepath.Base(filename) != filename {
		return filename, nil
	}

	appDataDir, err := GetAppDataDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(appDataDir, filename), nil
}

// SaveSnapshot writes the wallet snapshot to disk
func SaveSnapshot(filename string, snapshot *models.WalletSnapshot) error {
	filePath, err := SnapshotPath(filename)
	if err != nil {
		return err
	}

	jsonData, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal wallet snapshot: %w", err)
	}

	if err := os.WriteFile(filePath, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write wallet snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot reads the wallet snapshot from disk. A missing file means "no
// prior account" and returns nil without an error.
func LoadSnapshot(filename string) (*models.WalletSnapshot, error) {
	filePath, err := SnapshotPath(filename)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(filePath); os.IsNotExist(statErr) {
		return nil, nil
	}

	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet snapshot: %w", err)
	}

	var snapshot models.WalletSnapshot
	if err := json.Unmarshal(fileData, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet snapshot: %w", err)
	}

	if err := validateSnapshot(&snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

// validateSnapshot enforces that the default address is one of the snapshot's
// addresses.
func validateSnapshot(snapshot *models.WalletSnapshot) error {
	if snapshot.DefaultAddress == "" {
		return nil
	}

	for _, address := range snapshot.Addresses {
		if address == snapshot.DefaultAddress {
			return nil
		}
	}

	return fmt.Errorf("wallet snapshot is corrupt: default address %s is not in the address list", snapshot.DefaultAddress)
}
