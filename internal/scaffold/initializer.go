// Package scaffold creates a starter agora project: a configuration file,
// shared prompt templates and one persona file per participant.
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/persona"
)

// Names of generated files and directories, relative to the project directory.
const (
	ConfigFile  = "agora.yml"
	PromptsDir  = "prompts"
	PersonasDir = "personas"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string // Relative to the project directory
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes the starter project into dir and returns the relative
// paths it created. If force is true, existing generated files are removed
// first.
func Initialize(dir string, force bool) ([]string, error) {
	if force {
		if err := handleForce(dir); err != nil {
			return nil, err
		}
	}

	files, err := projectFiles()
	if err != nil {
		return nil, err
	}

	if err := createDirectories(dir); err != nil {
		return nil, err
	}

	if err := writeFiles(dir, files); err != nil {
		return nil, err
	}

	if err := validateCreatedFiles(dir); err != nil {
		return nil, err
	}

	created := make([]string, len(files))
	for i, f := range files {
		created[i] = f.Path
	}
	return created, nil
}

// handleForce removes existing generated files
func handleForce(dir string) error {
	if err := os.Remove(filepath.Join(dir, ConfigFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
	}
	for _, d := range []string{PromptsDir, PersonasDir} {
		if err := os.RemoveAll(filepath.Join(dir, d)); err != nil {
			return fmt.Errorf("failed to remove %s/ directory: %w", d, err)
		}
	}
	return nil
}

// projectFiles renders the default configuration with prompt and persona
// files referenced by relative path.
func projectFiles() ([]FileInfo, error) {
	cfg := config.Default()
	prompts := persona.DefaultPrompts()

	cfg.Prompts.SystemFile = filepath.Join(PromptsDir, "system.txt")
	cfg.Prompts.BiddingFile = filepath.Join(PromptsDir, "bidding.txt")

	files := []FileInfo{
		{Path: cfg.Prompts.SystemFile, Content: []byte(prompts.Action + "\n"), Permissions: 0o644},
		{Path: cfg.Prompts.BiddingFile, Content: []byte(prompts.Bidding + "\n"), Permissions: 0o644},
	}

	for i, p := range cfg.Participants {
		path := filepath.Join(PersonasDir, strings.ToLower(p.Role)+".txt")
		cfg.Participants[i].PersonaPromptFile = path
		files = append(files, FileInfo{
			Path:        path,
			Content:     []byte(personaTemplate(p.Role)),
			Permissions: 0o644,
		})
	}

	content, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", ConfigFile, err)
	}
	header := "# agora configuration. Durations use Go syntax (3s, 500ms).\n" +
		"# Set redis.url to publish events and keep run records in Redis.\n"

	return append([]FileInfo{{Path: ConfigFile, Content: append([]byte(header), content...), Permissions: 0o644}}, files...), nil
}

func personaTemplate(role string) string {
	return fmt.Sprintf(`You are %s.
Describe %s here: background, opinions, how they speak and what makes them
want to join the conversation. The bidding model reads this text to decide
how eagerly %s wants the next turn.
`, role, role, role)
}

// createDirectories creates the necessary directory structure
func createDirectories(dir string) error {
	for _, d := range []string{PromptsDir, PersonasDir} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

// writeFiles writes all generated files to disk
func writeFiles(dir string, files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file.Path), file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles loads the generated configuration the same way the
// CLI does, including every referenced prompt file.
func validateCreatedFiles(dir string) error {
	cfg, err := config.Load(filepath.Join(dir, ConfigFile))
	if err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}
	if _, err := persona.RosterFromConfig(cfg.Participants); err != nil {
		return fmt.Errorf("created persona files are invalid: %w", err)
	}
	if _, err := persona.LoadPrompts(cfg.Prompts.SystemFile, cfg.Prompts.BiddingFile); err != nil {
		return fmt.Errorf("created prompt files are invalid: %w", err)
	}
	return nil
}
