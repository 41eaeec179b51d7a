package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EntryIDFile is the file in the data directory holding the entry id.
const EntryIDFile = "instance_id"

// LoadOrCreateEntryID returns the config entry id persisted in dataDir,
// generating and saving a UUIDv7 the first time. Registry rows and MQTT
// unique ids hang off this id, so it must survive restarts and renames.
func LoadOrCreateEntryID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, EntryIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read entry id: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate entry id: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	idStr := id.String()
	if err := os.WriteFile(path, []byte(idStr+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist entry id to %s: %w", path, err)
	}

	return idStr, nil
}
