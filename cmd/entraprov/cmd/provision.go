package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openportal-labs/entraprov/pkg/arm"
	"github.com/openportal-labs/entraprov/pkg/audit"
	"github.com/openportal-labs/entraprov/pkg/clierror"
	"github.com/openportal-labs/entraprov/pkg/depcheck"
	"github.com/openportal-labs/entraprov/pkg/graph"
	"github.com/openportal-labs/entraprov/pkg/mail"
	"github.com/openportal-labs/entraprov/pkg/provision"
	"github.com/openportal-labs/entraprov/pkg/store"
)

// Color formatters for stage progress output.
var (
	stepFmt = color.New(color.FgBlue, color.Bold).SprintFunc()
	okFmt   = color.New(color.FgGreen).SprintFunc()
	warnFmt = color.New(color.FgYellow).SprintFunc()
)

func init() {
	rootCmd.AddCommand(provisionCmd)
	provisionCmd.Flags().Bool("mail", false, "Also connect the new application to Exchange Online")
	provisionCmd.Flags().Bool("arm", false, "Also assign Reader roles on the resource-management plane")
	provisionCmd.Flags().Duration("settle", 0, "Propagation wait after consent grants (default 30s)")
	provisionCmd.Flags().String("tenant", "", "Refuse to run unless the session's tenant id or a verified domain matches")
	provisionCmd.Flags().Bool("verbose", false, "Log stage detail to stderr")
}

var provisionCmd = &cobra.Command{
	Use:   "provision <application-name>",
	Short: "Provision an app registration with admin-consented permissions",
	Long: `Provision a new app registration end to end.

The run executes a fixed sequence of stages: dependency preflight, session
check, tenant verification, privilege gate, application and service principal
creation, permission assignment, admin consent, optional extensions, and
credential issuance. The first failing stage aborts the run; created objects
are left in place.

Re-running with the same name creates a second, distinct application.

The access token is read from ` + TokenEnv + `.

Examples:
  entraprov provision "Maester"
  entraprov provision "Maester" --mail
  entraprov provision "Maester" --mail --arm --settle 60s
  entraprov provision "Maester" -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runProvision,
}

func runProvision(cmd *cobra.Command, args []string) error {
	appName := args[0]
	mailExt, _ := cmd.Flags().GetBool("mail")
	armExt, _ := cmd.Flags().GetBool("arm")
	settle, _ := cmd.Flags().GetDuration("settle")
	tenant, _ := cmd.Flags().GetString("tenant")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := LoadConfig()
	if err != nil {
		return clierror.InternalError(err)
	}
	if settle == 0 {
		settle = cfg.Settle
	}
	if tenant == "" {
		tenant = cfg.Tenant
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	tokens := graph.EnvTokenSource(TokenEnv)
	p := &provision.Provisioner{
		Graph:  graph.NewHTTPClient(cfg.GraphURL, tokens),
		Mail:   mail.NewHTTPClient(cfg.MailURL, tokens),
		ARM:    arm.NewHTTPClient(cfg.ARMURL, tokens),
		Deps:   newDependencyChecker(logger, cfg, tokens, mailExt, armExt),
		Settle: settle,
		Logger: logger,
	}

	// Audit trail and run history are observers; a broken local disk should
	// not stop tenant provisioning, so setup failures only warn.
	if cfg.AuditLog != "" {
		if emitter, err := audit.NewFileEmitter(cfg.AuditLog); err == nil {
			p.Audit = audit.NewRunEmitter(logger, emitter)
		} else {
			logger.Warn("audit log unavailable", "path", cfg.AuditLog, "error", err)
		}
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = store.DefaultPath()
	}
	if runStore, err := store.Open(dbPath); err == nil {
		p.Store = runStore
		defer runStore.Close()
	} else {
		logger.Warn("run history unavailable", "path", dbPath, "error", err)
	}

	if outputFormat == "table" {
		p.Progress = printProgress
	}

	result, err := p.Run(cmd.Context(), provision.Request{
		ApplicationName: appName,
		MailExtension:   mailExt,
		ARMExtension:    armExt,
		ExpectedTenant:  tenant,
	})
	if err != nil {
		return err
	}

	if outputFormat != "table" {
		return formatOutput(result)
	}
	printResult(result)
	return nil
}

func printProgress(pr provision.RunProgress) {
	fmt.Printf("%s %s\n",
		stepFmt(fmt.Sprintf("[%d/%d]", pr.Current, pr.Total)),
		string(pr.Stage))
}

func printResult(result *provision.Result) {
	fmt.Println()
	fmt.Println(okFmt("Provisioning complete."))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Tenant ID:\t%s\n", result.TenantID)
	fmt.Fprintf(w, "Client ID:\t%s\n", result.ClientID)
	fmt.Fprintf(w, "Object ID:\t%s\n", result.ObjectID)
	fmt.Fprintf(w, "Service principal:\t%s\n", result.ServicePrincipalID)
	fmt.Fprintf(w, "Client secret:\t%s\n", result.ClientSecret)
	fmt.Fprintf(w, "Secret expires:\t%s\n", result.SecretExpires.Format(time.RFC3339))
	w.Flush()

	fmt.Println()
	fmt.Println(warnFmt("Store the client secret now. It cannot be retrieved again."))
}

// newDependencyChecker wires the preflight probes for this run. The token and
// the Graph endpoint are always required; extension endpoints are required
// only when their stage will run.
func newDependencyChecker(logger *slog.Logger, cfg *Config, tokens graph.TokenSource, mailExt, armExt bool) *depcheck.Checker {
	graphURL := cfg.GraphURL
	if graphURL == "" {
		graphURL = graph.DefaultBaseURL
	}
	mailURL := cfg.MailURL
	if mailURL == "" {
		mailURL = mail.DefaultBaseURL
	}
	armURL := cfg.ARMURL
	if armURL == "" {
		armURL = arm.DefaultBaseURL
	}

	deps := []depcheck.Dependency{
		{Name: "access-token", Probe: func(ctx context.Context) error {
			_, err := tokens.Token(ctx)
			return err
		}},
		{Name: "graph-endpoint", Probe: endpointProbe(graphURL + "/$metadata")},
	}
	if mailExt {
		deps = append(deps, depcheck.Dependency{Name: "mail-endpoint", Probe: endpointProbe(mailURL)})
	}
	if armExt {
		deps = append(deps, depcheck.Dependency{Name: "arm-endpoint", Probe: endpointProbe(armURL)})
	}
	return depcheck.NewChecker(logger, deps...)
}

// endpointProbe reports reachability only. Any HTTP response, including an
// auth challenge, proves the service is there.
func endpointProbe(url string) depcheck.Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("endpoint unreachable: %w", err)
		}
		resp.Body.Close()
		return nil
	}
}
