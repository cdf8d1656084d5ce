package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tetrixcorps/compliantivr/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigSampleCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))

	return configCmd
}

func newConfigSampleCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print or write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), config.SampleConfig())
				return err
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}
			if err := os.WriteFile(target, []byte(config.SampleConfig()), 0o644); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the effective values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			secret := "(unset)"
			if cfg.WebhookSecret != "" {
				secret = "(set)"
			}
			if ctx.json() {
				masked := cfg
				masked.WebhookSecret = secret
				return writeJSON(cmd, masked)
			}
			rows := [][]string{
				{"http_addr", cfg.HTTPAddr},
				{"grpc_addr", cfg.GRPCAddr},
				{"env", cfg.Env},
				{"store", cfg.Store},
				{"db_path", cfg.DBPath},
				{"webhook_base_url", cfg.WebhookBaseURL},
				{"webhook_secret", secret},
				{"escalation_number", cfg.EscalationNumber},
				{"catalog_path", cfg.CatalogPath},
				{"no_policy_mode", cfg.NoPolicyMode},
				{"session_retention_hours", fmt.Sprint(cfg.SessionRetentionHours)},
				{"prune_interval_minutes", fmt.Sprint(cfg.PruneIntervalMinutes)},
			}
			printTable(cmd, []string{"Key", "Value"}, rows, nil)
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
			return nil
		},
	}
}
