package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/agora/internal/printer"
	"github.com/dyluth/agora/internal/scaffold"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a starter agora project",
	Long: `Create a starter project in dir (default: the current directory).

Creates:
  • agora.yml - Configuration with the four built-in participants
  • prompts/system.txt, prompts/bidding.txt - Shared prompt templates
  • personas/<name>.txt - One persona description per participant

Use --force to reinitialize (WARNING: overwrites the files above).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing agora.yml, prompts/ and personas/")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if !forceInit {
		if err := scaffold.CheckExisting(dir); err != nil {
			return printer.Error(
				"project already initialized",
				err.Error(),
				[]string{"Use 'agora init --force' to overwrite the existing files"},
			)
		}
	} else {
		printer.Warning("Overwriting existing project files in %s\n", dir)
	}

	created, err := scaffold.Initialize(dir, forceInit)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	printer.Success("Initialized agora project in %s\n\nCreated:\n", dir)
	for _, path := range created {
		printer.Printf("  ✓ %s\n", path)
	}
	printer.Println("\nNext steps:")
	printer.Println("  1. Describe each participant in personas/")
	printer.Println("  2. Export ANTHROPIC_API_KEY and GROQ_API_KEY (or change models in agora.yml)")
	printer.Println("  3. Run 'agora run' or 'agora serve'")
	return nil
}
