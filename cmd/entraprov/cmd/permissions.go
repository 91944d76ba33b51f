package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openportal-labs/entraprov/pkg/graph"
	"github.com/openportal-labs/entraprov/pkg/provision"
)

func init() {
	rootCmd.AddCommand(permissionsCmd)
}

// permissionEntry is the output row for one catalogue permission.
type permissionEntry struct {
	Resource   string `json:"resource"`
	Permission string `json:"permission"`
	Optional   bool   `json:"optional"`
}

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Show the permission catalogue a provisioned app requests",
	Long: `Show the fixed set of application permissions the provisioning run
requests and consents to. The Exchange entry only applies when --mail is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []permissionEntry
		for _, name := range provision.GraphPermissionNames {
			entries = append(entries, permissionEntry{
				Resource:   "Microsoft Graph",
				Permission: name,
			})
		}
		entries = append(entries, permissionEntry{
			Resource:   "Office 365 Exchange Online",
			Permission: provision.ExchangePermissionName,
			Optional:   true,
		})

		if outputFormat != "table" {
			return formatOutput(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RESOURCE\tPERMISSION\tOPTIONAL")
		for _, e := range entries {
			optional := "-"
			if e.Optional {
				optional = "mail extension"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Resource, e.Permission, optional)
		}
		w.Flush()

		fmt.Printf("\nResource app ids: Graph %s, Exchange %s\n",
			graph.MicrosoftGraphAppID, graph.ExchangeOnlineAppID)
		return nil
	},
}
