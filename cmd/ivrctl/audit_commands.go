package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetrixcorps/compliantivr/internal/app"
	"github.com/tetrixcorps/compliantivr/internal/httpapi"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <tenant>",
		Short: "Verify a tenant's audit hash chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				rep, err := a.Audit.VerifyChain(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.json() {
					if err := writeJSON(cmd, rep); err != nil {
						return err
					}
				} else {
					rows := [][]string{
						{"Tenant", rep.TenantID},
						{"Intact", yesNo(rep.OK)},
						{"Events", strconv.FormatInt(rep.Total, 10)},
						{"Last seq", strconv.FormatInt(rep.LastSeq, 10)},
						{"Last hash", rep.LastHash},
					}
					if b := rep.FirstBreak; b != nil {
						rows = append(rows,
							[]string{"Break at seq", strconv.FormatInt(b.Seq, 10)},
							[]string{"Break log id", b.LogID},
							[]string{"Reason", b.Reason},
						)
					}
					printTable(cmd, []string{"Field", "Value"}, rows, nil)
				}
				if !rep.OK {
					return fmt.Errorf("audit chain for %s is broken", rep.TenantID)
				}
				return nil
			})
		},
	}
}

func newAuditCommand(ctx *commandContext) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and export audit evidence",
	}
	auditCmd.AddCommand(newAuditExportCommand(ctx))
	auditCmd.AddCommand(newAuditTrailCommand(ctx))
	auditCmd.AddCommand(newAuditReportCommand(ctx))
	return auditCmd
}

func newAuditExportCommand(ctx *commandContext) *cobra.Command {
	var format, outPath, callID, from, to string
	var digest bool

	cmd := &cobra.Command{
		Use:   "export <tenant>",
		Short: "Export a tenant's audit events as JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := types.AuditFilter{TenantID: args[0], CallID: callID}
			var err error
			if f.From, err = parseTimeFlag("from", from); err != nil {
				return err
			}
			if f.To, err = parseTimeFlag("to", to); err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				body, err := a.Audit.Export(cmd.Context(), f, format)
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
	cmd.Flags().StringVar(&callID, "call", "", "Only events for this call")
	cmd.Flags().StringVar(&from, "from", "", "Earliest timestamp (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Latest timestamp (RFC3339)")
	cmd.Flags().BoolVar(&digest, "digest", false, "Print the blake3 digest of the export to stderr")
	return cmd
}

func newAuditTrailCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trail <tenant> <call-id>",
		Short: "Show the audit trail of one call",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				events, err := a.Audit.GetCallAuditTrail(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.json() {
					return writeJSON(cmd, events)
				}
				if len(events) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No audit events for call %s\n", args[1])
					return nil
				}
				rows := make([][]string, 0, len(events))
				for _, ev := range events {
					rows = append(rows, []string{
						strconv.FormatInt(ev.Seq, 10),
						ev.Timestamp.UTC().Format(time.RFC3339),
						string(ev.EventType),
						shortHash(ev.EventHash),
					})
				}
				printTable(cmd, []string{"Seq", "Timestamp", "Event", "Hash"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft})
				return nil
			})
		},
	}
}

func newAuditReportCommand(ctx *commandContext) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "report <tenant>",
		Short: "Summarise a tenant's compliance activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT, err := parseTimeFlag("from", from)
			if err != nil {
				return err
			}
			toT, err := parseTimeFlag("to", to)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				rep, err := a.Audit.ComplianceReport(cmd.Context(), args[0], fromT, toT)
				if err != nil {
					return err
				}
				if ctx.json() {
					return writeJSON(cmd, rep)
				}
				rows := [][]string{
					{"Calls", strconv.Itoa(rep.Calls)},
					{"Events", strconv.Itoa(rep.TotalEvents)},
					{"Escalations", strconv.Itoa(rep.Escalations)},
					{"Consents granted", strconv.Itoa(rep.ConsentsGranted)},
					{"Consents denied", strconv.Itoa(rep.ConsentsDenied)},
					{"Violations", strconv.Itoa(rep.Violations)},
					{"Chain intact", yesNo(rep.Chain.OK)},
				}
				printTable(cmd, []string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Start of the window (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "End of the window (RFC3339)")
	return cmd
}

func parseTimeFlag(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func writeOutput(cmd *cobra.Command, path string, body []byte) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(body), path)
	return nil
}
