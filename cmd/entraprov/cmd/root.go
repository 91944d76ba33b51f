// Package cmd implements the entraprov CLI commands.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openportal-labs/entraprov/pkg/clierror"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// Global flags
	outputFormat string
	configPath   string
)

var rootCmd = &cobra.Command{
	Use:   "entraprov",
	Short: "Provision Entra ID app registrations for security-posture tooling",
	Long: `entraprov provisions a directory app registration end to end: it creates
the application and its service principal, assigns a fixed catalogue of
read-only Graph permissions, grants tenant-admin consent, optionally extends
trust to Exchange Online and Azure Resource Manager, and issues a six-month
client secret.

A run is sequential and fail-fast: the first failing stage aborts the run and
is reported by name. Nothing is rolled back; objects already created remain in
the tenant for inspection or manual cleanup.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for entraprov.

To load completions:

Bash:
  # Add to ~/.bashrc:
  source <(entraprov completion bash)

Zsh:
  # Add to ~/.zshrc:
  source <(entraprov completion zsh)

Fish:
  # Add to ~/.config/fish/completions/:
  entraprov completion fish > ~/.config/fish/completions/entraprov.fish

PowerShell:
  # Add to your PowerShell profile:
  entraprov completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		default:
			return fmt.Errorf("unknown shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/entraprov/config.yaml)")
	rootCmd.AddCommand(completionCmd)
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}
	var cliErr *clierror.CLIError
	if errors.As(err, &cliErr) {
		clierror.PrintError(cliErr, outputFormat)
	} else {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return clierror.ExitSuccess
	}
	var cliErr *clierror.CLIError
	if errors.As(err, &cliErr) {
		return cliErr.ExitCode
	}
	return clierror.ExitGeneral
}

// formatOutput handles output formatting based on the --output flag.
func formatOutput(data interface{}) error {
	switch outputFormat {
	case "json":
		return outputJSON(data)
	case "yaml":
		return outputYAML(data)
	default:
		// Table format is handled by each command
		return nil
	}
}

func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
