package config

import (
	"os"
	"path/filepath"
)

// AppName is used as the postgres schema name and the default cache
// directory name.
const AppName = "tranzr_quotes"

// SchemaVersion is stamped into persisted metadata so a future format
// change can detect and migrate stale local caches.
const SchemaVersion = 1

// DefaultCacheDir resolves the directory for the file-backed local cache.
// TRANZR_CACHE_DIR wins, otherwise the OS user cache dir, otherwise a
// relative fallback so dev machines without HOME still work.
func DefaultCacheDir() string {
	if dir := os.Getenv("TRANZR_CACHE_DIR"); dir != "" {
		return dir
	}
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, AppName)
	}
	return "." + AppName
}
