// Package cli implements the duckbridge command-line client. The query
// command runs SQL through an in-process coordinator, optionally backed by
// a remote engine.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"duckbridge/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// globals holds persistent flag values after profile resolution.
type globals struct {
	output  string
	profile string
	debug   bool

	active Profile
}

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == outputJSON {
			errObj := map[string]interface{}{
				"error": err.Error(),
			}
			var qerr *domain.QueryError
			if errors.As(err, &qerr) {
				errObj["sql"] = qerr.SQL
				if qerr.Remote != nil {
					errObj["remote_error"] = qerr.Remote.Error()
				}
			}
			_ = printJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "duckbridge",
		Short:         "Query Parquet sources through DuckDB",
		Long:          "Command-line client that registers Parquet sources as views and queries them locally or on a remote engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// The config file is optional.
			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = &UserConfig{Profiles: map[string]Profile{}}
			}
			p, err := cfg.ActiveProfile(g.profile)
			if err != nil {
				return err
			}
			g.active = p

			// Precedence: flag > env > profile > default
			g.output = resolveSetting(cmd, "output", g.output, "DUCKBRIDGE_OUTPUT", p.Output)
			return validateOutputFormat(g.output)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", outputAuto, "Output format (auto, table, json)")
	rootCmd.PersistentFlags().StringVarP(&g.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Log engine diagnostics to stderr")

	rootCmd.AddCommand(newQueryCmd(g))
	rootCmd.AddCommand(newConfigCmd(g))
	rootCmd.AddCommand(newVersionCmd(g))
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolveSetting applies flag > env > profile precedence for one setting.
func resolveSetting(cmd *cobra.Command, flag, flagValue, env, profileValue string) string {
	if cmd.Flags().Changed(flag) {
		return flagValue
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if profileValue != "" {
		return profileValue
	}
	return flagValue
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
