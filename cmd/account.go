package cmd

import (
	"errors"
	"net/http"

	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/pkg/clierr"
	"github.com/habedi/apsq/pkg/output"
	"github.com/habedi/apsq/pkg/validation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// registerCmd creates an account. It does not log in.
func registerCmd(app *App) *cobra.Command {
	var email, fullName string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an APSQ account",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if email, err = promptMissing(app.Prompter, email, "Email: ", false); err != nil {
				return err
			}
			if err := validationError(validation.ValidateEmail(email)); err != nil {
				return err
			}
			if fullName, err = promptMissing(app.Prompter, fullName, "Full name: ", false); err != nil {
				return err
			}
			password, err := app.Prompter.Secret("Password: ")
			if err != nil {
				return err
			}
			confirm, err := app.Prompter.Secret("Confirm password: ")
			if err != nil {
				return err
			}

			msg, err := app.Auth.Register(cmd.Context(), email, fullName, password, confirm)
			if err != nil {
				return err
			}
			return app.Printer().Message(cmd.Context(), msg)
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&fullName, "name", "n", "", "Full name")

	return cmd
}

// loginCmd exchanges email and password for a session and caches the profile
// and the project list.
func loginCmd(app *App) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to APSQ",
		Long:  "Log in to APSQ using your email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if email, err = promptMissing(app.Prompter, email, "Email: ", false); err != nil {
				return err
			}
			password, err := app.Prompter.Secret("Password: ")
			if err != nil {
				return err
			}

			profile, err := app.Auth.Login(cmd.Context(), email, password)
			if errors.Is(err, client.ErrRequestFailed) && client.StatusOf(err) == http.StatusBadRequest {
				return clierr.New(clierr.Auth, client.MessageOf(err), err)
			}
			if err != nil {
				return err
			}

			if _, err := refreshProjectCache(cmd.Context(), app, ""); err != nil {
				log.Warn().Err(err).Msg("Failed to cache the project list after login")
			}
			return app.Printer().Message(cmd.Context(), "Logged in as "+profile.FullName+" <"+profile.Email+">.")
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")

	return cmd
}

func logoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session and local data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			return app.Printer().Message(cmd.Context(), "Logged out.")
		},
	}
}

func whoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := app.Auth.Status(cmd.Context())
			if err != nil {
				return err
			}
			if !status.Authenticated {
				return errNotLoggedIn
			}

			table := &output.Table{Header: []string{"ID", "Email", "Name", "Logged In"}}
			if p := status.Profile; p != nil {
				table.Append(p.UserID, p.Email, p.FullName, p.LoggedInAt.Local().Format("2006-01-02 15:04"))
			}
			return app.Printer().Print(cmd.Context(), status, table)
		},
	}
}
