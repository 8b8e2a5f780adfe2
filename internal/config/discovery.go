package config

import (
	"os"
	"path/filepath"
)

// FileNames are the config file names looked up in a target project, in order.
var FileNames = []string{".qacheck.yaml", ".qacheck.yml"}

// Discover returns the config file inside target, if one exists.
func Discover(target string) (string, bool) {
	if target == "" {
		target = "."
	}
	for _, name := range FileNames {
		path := filepath.Join(target, name)
		if fileExists(path) {
			return path, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
