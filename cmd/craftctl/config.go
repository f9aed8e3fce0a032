package main

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/danmuck/craftctl/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "craftctl.toml"

// loadConfig reads path, falling back to defaults when the default path is
// absent. An explicit --config that does not exist is an error.
func loadConfig(cmd *cobra.Command, path string) (config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			log.Info().Str("path", path).Msg("craftctl config not found, using defaults")
			return config.DefaultConfig(), nil
		}
	}
	return config.Load(path)
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write, check and print craftctl configuration",
	}

	var (
		output string
		force  bool
		stdout bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if stdout {
				_, err := io.WriteString(cmd.OutOrStdout(), config.Template())
				return err
			}
			target := output
			if target == "" {
				target = *configPath
			}
			if err := config.WriteTemplate(target, force); err != nil {
				return err
			}
			log.Info().Str("path", target).Msg("craftctl config template written")
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "", "template path (defaults to --config)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	initCmd.Flags().BoolVar(&stdout, "stdout", false, "print the template instead of writing it")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if _, err := cfg.SearchTargets(); err != nil {
				return err
			}
			log.Info().Str("path", *configPath).Msg("craftctl config valid")
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			data, err := config.Encode(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, validateCmd, showCmd)
	return cmd
}
