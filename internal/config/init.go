package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed defaults/config.yml defaults/passthrough_keys/*.csv
var defaultFiles embed.FS

// Init creates dir and extracts the embedded default config.yml and an
// example passthrough_keys CSV, skipping anything that already exists.
func Init(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "passthrough_keys"), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := extractDefault("defaults/config.yml", filepath.Join(dir, "config.yml")); err != nil {
		return err
	}

	entries, err := defaultFiles.ReadDir("defaults/passthrough_keys")
	if err != nil {
		return fmt.Errorf("read embedded defaults: %w", err)
	}
	for _, entry := range entries {
		src := "defaults/passthrough_keys/" + entry.Name()
		dst := filepath.Join(dir, "passthrough_keys", entry.Name())
		if err := extractDefault(src, dst); err != nil {
			return err
		}
	}

	return nil
}

func extractDefault(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		fmt.Printf("  skip %s (already exists)\n", filepath.Base(dst))
		return nil
	}

	data, err := defaultFiles.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read embedded %s: %w", src, err)
	}

	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	fmt.Printf("  created %s\n", filepath.Base(dst))
	return nil
}
