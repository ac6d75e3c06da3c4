package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/takopihq/takopi/internal/config"
)

func initCmd() *cobra.Command {
	var setDefault bool
	cmd := &cobra.Command{
		Use:   "init [alias]",
		Short: "Register the current directory as a takopi project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := ""
			if len(args) > 0 {
				alias = args[0]
			}
			return runInit(alias, setDefault)
		},
	}
	cmd.Flags().BoolVar(&setDefault, "default", false, "set this project as the default_project")
	return cmd
}

func defaultAliasFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".git")
	return strings.ToLower(name)
}

func runInit(alias string, setDefault bool) error {
	path, err := config.DefaultPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrNotFound) {
		cfg = &config.Config{Path: path}
	} else if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	if alias == "" {
		alias = defaultAliasFromPath(cwd)
		if isInteractive() {
			input := huh.NewInput().Title("project alias").Value(&alias)
			if err := input.Run(); err != nil {
				return err
			}
		}
	}
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return errors.New("project alias cannot be empty")
	}
	if !config.IsValidID(strings.ToLower(alias)) {
		return fmt.Errorf("invalid project alias %q; use lowercase letters, digits, and underscores", alias)
	}
	for _, id := range engineCommandIDs() {
		if strings.EqualFold(alias, string(id)) {
			return fmt.Errorf("invalid project alias %q; aliases must not match engine ids", alias)
		}
	}
	if strings.EqualFold(alias, "cancel") {
		return fmt.Errorf("invalid project alias %q; aliases must not match reserved commands", alias)
	}

	if canonical := cfg.NormalizeProjectKey(alias); canonical != "" {
		overwrite := false
		if isInteractive() {
			confirm := huh.NewConfirm().
				Title(fmt.Sprintf("project %q already exists, overwrite?", canonical)).
				Value(&overwrite)
			if err := confirm.Run(); err != nil {
				return err
			}
		}
		if !overwrite {
			return fmt.Errorf("project %q already exists", canonical)
		}
		delete(cfg.Projects, canonical)
	}

	if cfg.Projects == nil {
		cfg.Projects = make(map[string]config.ProjectConfig)
	}
	entry := config.ProjectConfig{
		Path:         cwd,
		WorktreesDir: ".worktrees",
	}
	if cfg.DefaultEngine != "" {
		entry.DefaultEngine = cfg.DefaultEngine
	}
	cfg.Projects[alias] = entry
	if setDefault {
		cfg.DefaultProject = alias
	}

	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Printf("saved project %q to %s\n", alias, displayPath(path))
	return nil
}
