package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/habedi/apsq/config"
	"github.com/habedi/apsq/pkg/clierr"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Execute runs the CLI and exits the process with a code derived from the
// error type.
func Execute(ctx context.Context) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(clierr.ExitCode(clierr.New(clierr.Validation, err.Error(), err)))
	}

	app, err := newApp(ctx, cfg, os.Stdout, os.Stderr, newTerminalPrompter())
	if err != nil {
		log.Error().Err(err).Msg("Failed to start")
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	code := run(ctx, app, os.Args[1:], os.Stderr)
	app.Close()
	os.Exit(code)
}

// run executes the command tree against app and returns the exit code.
func run(ctx context.Context, app *App, args []string, errOut io.Writer) int {
	rootCmd := createRootCmd(app)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	ce := cliError(err)
	log.Error().Err(err).Str("type", string(ce.Type)).Msg("Command execution failed.")
	fmt.Fprintln(errOut, "Error:", ce.Message)
	return clierr.ExitCode(ce)
}

func createRootCmd(app *App) *cobra.Command {
	var format, jq string

	rootCmd := &cobra.Command{
		Use:           "apsq",
		Short:         "A command-line client for APSQ projects and recipes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validationError(app.setOutput(format, jq))
		},
	}

	rootCmd.PersistentFlags().BoolP("help", "h", false, "Show help for a command")
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", "table", "Output format [table, json, yaml]")
	rootCmd.PersistentFlags().StringVar(&jq, "jq", "", "Filter JSON output with a jq expression")

	rootCmd.AddCommand(
		registerCmd(app),
		loginCmd(app),
		logoutCmd(app),
		whoamiCmd(app),
		projectsCmd(app),
		membersCmd(app),
		invitationsCmd(app),
		recipesCmd(app),
		tagsCmd(app),
		combinationsCmd(app),
		dashboardCmd(app),
		versionCmd(app),
	)

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})
	rootCmd.SetOut(app.out)
	rootCmd.SetErr(app.errOut)

	return rootCmd
}
