package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetrixcorps/compliantivr/internal/app"
	"github.com/tetrixcorps/compliantivr/internal/db"
)

func newDBCommand(ctx *commandContext) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	dbCmd.AddCommand(newDBVersionCommand(ctx))
	dbCmd.AddCommand(newDBSeedCommand(ctx))
	return dbCmd
}

func newDBVersionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				v, err := db.SchemaVersion(cmd.Context(), a.DB())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
				return nil
			})
		},
	}
}

func newDBSeedCommand(ctx *commandContext) *cobra.Command {
	var opt db.SeedDevOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert development fixtures (dev env only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Env != "dev" {
				return errors.New("refusing to seed outside the dev env")
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				if err := db.SeedDev(cmd.Context(), a.DB(), opt); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Seeded development data")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opt.TenantID, "tenant", "", "Tenant that receives a healthcare policy (default demo_clinic)")
	cmd.Flags().StringVar(&opt.CustomerID, "customer", "", "Customer that receives a granted data_processing consent")
	return cmd
}
