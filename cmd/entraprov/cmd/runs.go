package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openportal-labs/entraprov/pkg/clierror"
	"github.com/openportal-labs/entraprov/pkg/store"
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsListCmd.Flags().IntP("limit", "n", 20, "Maximum runs to list")
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past provisioning runs",
	Long: `Commands to list and inspect the local history of provisioning runs.

The history records what each run created and where failed runs stopped, so
partially provisioned applications can be found and cleaned up manually.
Client secrets are never recorded.`,
}

func openRunStore() (*store.Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, clierror.InternalError(err)
	}
	path := cfg.DBPath
	if path == "" {
		path = store.DefaultPath()
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, clierror.InternalError(err)
	}
	return s, nil
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent provisioning runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		s, err := openRunStore()
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.ListRuns(limit)
		if err != nil {
			return clierror.InternalError(err)
		}

		if outputFormat != "table" {
			if len(runs) == 0 {
				fmt.Println("[]")
				return nil
			}
			return formatOutput(runs)
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded yet. Use 'entraprov provision' to start one.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tAPPLICATION\tSTATUS\tSTAGE\tSTARTED")
		for _, run := range runs {
			id := run.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				id, run.AppName, run.Status, run.Stage,
				run.StartedAt.Local().Format(time.RFC3339))
		}
		w.Flush()
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one provisioning run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openRunStore()
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := s.GetRun(args[0])
		if err != nil {
			return clierror.InternalError(err)
		}
		if run == nil {
			return clierror.ResourceNotFound("", fmt.Sprintf("run '%s'", args[0])).
				WithHint("List run ids with 'entraprov runs list' (full ids in -o json)")
		}

		if outputFormat != "table" {
			return formatOutput(run)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Run:\t%s\n", run.ID)
		fmt.Fprintf(w, "Application:\t%s\n", run.AppName)
		fmt.Fprintf(w, "Status:\t%s\n", run.Status)
		fmt.Fprintf(w, "Stage:\t%s\n", run.Stage)
		if run.FailureCode != "" {
			fmt.Fprintf(w, "Failure:\t%s (%s)\n", run.FailureCode, run.FailureReason)
		}
		if run.TenantID != "" {
			fmt.Fprintf(w, "Tenant:\t%s\n", run.TenantID)
		}
		if run.ClientID != "" {
			fmt.Fprintf(w, "Client ID:\t%s\n", run.ClientID)
			fmt.Fprintf(w, "Object ID:\t%s\n", run.ObjectID)
			fmt.Fprintf(w, "Service principal:\t%s\n", run.SPObjectID)
		}
		fmt.Fprintf(w, "Started:\t%s\n", run.StartedAt.Local().Format(time.RFC3339))
		if run.FinishedAt != nil {
			fmt.Fprintf(w, "Finished:\t%s\n", run.FinishedAt.Local().Format(time.RFC3339))
		}
		w.Flush()
		return nil
	},
}
