package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetrixcorps/compliantivr/internal/app"
	"github.com/tetrixcorps/compliantivr/internal/httpapi"
)

func newConsentCommand(ctx *commandContext) *cobra.Command {
	consentCmd := &cobra.Command{
		Use:   "consent",
		Short: "Inspect and export the consent ledger",
	}
	consentCmd.AddCommand(newConsentStatusCommand(ctx))
	consentCmd.AddCommand(newConsentExportCommand(ctx))
	return consentCmd
}

func newConsentStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <tenant> <customer-id>",
		Short: "Show a customer's current consents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				st, err := a.Consents.GetConsentStatus(cmd.Context(), args[1], args[0])
				if err != nil {
					return err
				}
				if ctx.json() {
					return writeJSON(cmd, st)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Overall: %s\n", st.OverallStatus)
				if len(st.Consents) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(st.Consents))
				for _, c := range st.Consents {
					expires := "-"
					if c.ExpiresAt != nil {
						expires = c.ExpiresAt.UTC().Format(time.RFC3339)
					}
					rows = append(rows, []string{
						string(c.ConsentType),
						string(c.Channel),
						yesNo(c.Granted && c.RevokedAt == nil),
						c.UpdatedAt.UTC().Format(time.RFC3339),
						expires,
					})
				}
				printTable(cmd, []string{"Type", "Channel", "Granted", "Updated", "Expires"}, rows, nil)
				return nil
			})
		},
	}
}

func newConsentExportCommand(ctx *commandContext) *cobra.Command {
	var format, outPath string
	var digest bool

	cmd := &cobra.Command{
		Use:   "export <tenant>",
		Short: "Export a tenant's consent records as JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				body, err := a.Consents.ExportConsents(cmd.Context(), args[0], format)
				if err != nil {
					return err
				}
				if err := writeOutput(cmd, outPath, body); err != nil {
					return err
				}
				if digest {
					fmt.Fprintln(cmd.ErrOrStderr(), httpapi.Digest(body))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format (json or csv)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to a file instead of stdout")
	cmd.Flags().BoolVar(&digest, "digest", false, "Print the blake3 digest of the export to stderr")
	return cmd
}
