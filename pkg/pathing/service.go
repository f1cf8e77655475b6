package pathing

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Ensure directories exist on startup
func init() {
	// Directories that must exist:
	dirs := []string{
		GetDataDir(),
	}

	// Create all directories
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			err := os.MkdirAll(dir, 0755)
			if err != nil {
				log.Warnf("Could not create %s: %v", dir, err)
			}
		}
	}
}

func GetArchiveDbPath() string {
	// Join path
	return filepath.Join(GetDataDir(), "solarpush-archive.db")
}

func GetDataDir() string {
	if dir := os.Getenv("SOLARPUSH_DATA_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/solarpush"
}

func GetConfigDir() string {
	if dir := os.Getenv("SOLARPUSH_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/solarpush"
}
