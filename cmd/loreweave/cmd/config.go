package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/loreweave/loreweave/configs"
	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Inspect and initialize loreweave configuration.

Resolution order: built-in defaults, then the user config
(~/.config/loreweave/config.yaml), then the project config
(.loreweave.yaml), then LOREWEAVE_* environment variables.`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var user bool
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config template",
		Long: `Write a commented configuration template.

By default a project config (.loreweave.yaml) is created in the
current directory. With --user, the machine-level config is created
at ~/.config/loreweave/config.yaml instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, user, force)
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Create the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, user, force bool) error {
	var path, template string
	if user {
		path = config.GetUserConfigPath()
		template = configs.UserConfigTemplate
	} else {
		path = config.ProjectConfigName
		template = configs.ProjectConfigTemplate
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("wrote %s", path)
	out.Detail("edit it, then run 'loreweave ingest' to index your story")
	return nil
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(".")
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	return cmd
}
