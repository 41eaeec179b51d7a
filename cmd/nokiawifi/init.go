package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/nokiawifi/examples"
	"github.com/nugget/nokiawifi/internal/config"
)

// runInit prepares dir for a first run: the data directory and an
// example config.yaml. Existing files are never overwritten. The config
// holds the router password, so it is written 0600.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing nokiawifi in %s\n", dir)

	dataDir := filepath.Join(dir, filepath.Base(config.DefaultDataDir))
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", dataDir)

	configPath := filepath.Join(dir, "config.yaml")
	wrote, err := writeIfMissing(configPath, examples.ConfigYAML, 0o600)
	if err != nil {
		return err
	}
	if wrote {
		fmt.Fprintf(w, "  ✓ %s\n", configPath)
	} else {
		fmt.Fprintf(w, "  - %s (exists, left alone)\n", configPath)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml with your router address and password, then run: nokiawifi serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist, and reports whether it wrote.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
