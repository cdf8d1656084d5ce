package main

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tetrixcorps/compliantivr/internal/app"
)

func newPoliciesCommand(ctx *commandContext) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List compliance policies and their disclosure scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				policies, err := a.Policies.ListPolicies(cmd.Context())
				if err != nil {
					return err
				}
				if tenant != "" {
					kept := policies[:0]
					for _, p := range policies {
						if p.TenantID == tenant || p.TenantID == "" {
							kept = append(kept, p)
						}
					}
					policies = kept
				}
				if ctx.json() {
					return writeJSON(cmd, policies)
				}
				rows := make([][]string, 0, len(policies))
				for _, p := range policies {
					owner := p.TenantID
					if owner == "" {
						owner = "(default)"
					}
					rows = append(rows, []string{
						p.PolicyID, owner, p.Industry, p.Region,
						yesNo(p.RequiresIdentityVerification),
						yesNo(p.RequiresDisclosure),
						yesNo(p.RequiresConsentRecording),
						p.DisclosureScriptID,
						yesNo(p.IsActive),
					})
				}
				printTable(cmd, []string{"Policy", "Tenant", "Industry", "Region", "Verify", "Disclose", "Consent", "Script", "Active"}, rows, nil)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Only policies that apply to this tenant")
	cmd.AddCommand(newScriptsCommand(ctx))
	return cmd
}

func newScriptsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List disclosure script versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				scripts, err := a.Policies.ListScripts(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.json() {
					return writeJSON(cmd, scripts)
				}
				rows := make([][]string, 0, len(scripts))
				for _, s := range scripts {
					rows = append(rows, []string{s.ScriptID, strconv.Itoa(s.Version), s.Language, yesNo(s.IsActive)})
				}
				printTable(cmd, []string{"Script", "Version", "Language", "Active"}, rows,
					[]columnAlignment{alignLeft, alignRight})
				return nil
			})
		},
	}
}

func newFlowsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List registered call flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				flows, err := a.Sessions.ListFlows(cmd.Context())
				if err != nil {
					return err
				}
				sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
				if ctx.json() {
					return writeJSON(cmd, flows)
				}
				rows := make([][]string, 0, len(flows))
				for _, f := range flows {
					steps := make([]string, len(f.Steps))
					for i, s := range f.Steps {
						steps[i] = s.ID
					}
					rows = append(rows, []string{f.ID, f.Name, f.Industry, strings.Join(steps, " → ")})
				}
				printTable(cmd, []string{"Flow", "Name", "Industry", "Steps"}, rows, nil)
				return nil
			})
		},
	}
}
