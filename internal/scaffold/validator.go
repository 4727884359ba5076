package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckExisting returns an error naming the generated files that already
// exist in dir.
func CheckExisting(dir string) error {
	var existing []string

	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		existing = append(existing, ConfigFile)
	}
	for _, d := range []string{PromptsDir, PersonasDir} {
		if info, err := os.Stat(filepath.Join(dir, d)); err == nil && info.IsDir() {
			existing = append(existing, d+"/")
		}
	}

	if len(existing) == 0 {
		return nil
	}
	return fmt.Errorf("project already initialized: found %s", strings.Join(existing, ", "))
}
