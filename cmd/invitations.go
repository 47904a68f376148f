package cmd

import (
	"strings"

	"github.com/habedi/apsq/auth"
	"github.com/habedi/apsq/pkg/clierr"
	"github.com/habedi/apsq/pkg/output"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func invitationsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "invitations",
		Aliases: []string{"invites", "i"},
		Short:   "Answer project invitations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pending invitations",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := app.requireLogin(); err != nil {
					return err
				}
				invitations, err := app.API.PendingInvitations(cmd.Context())
				if err != nil {
					return err
				}

				if len(invitations) == 0 && app.Printer().Format() == output.FormatTable {
					return app.Printer().Message(cmd.Context(), "No pending invitations.")
				}
				table := &output.Table{Header: []string{"ID", "Project", "Invited By", "Role", "Invited At"}}
				for _, inv := range invitations {
					table.Append(inv.ID, inv.Project, inv.InvitedBy, inv.Role, inv.InvitedAt)
				}
				return app.Printer().Print(cmd.Context(), invitations, table)
			},
		},
		&cobra.Command{
			Use:   "accept [invitation]",
			Short: "Accept an invitation with the project password",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if err := app.requireLogin(); err != nil {
					return err
				}
				id, err := parseID("invitation id", args[0])
				if err != nil {
					return err
				}
				password, err := app.Prompter.Secret("Project password: ")
				if err != nil {
					return err
				}
				if strings.TrimSpace(password) == "" {
					return clierr.New(clierr.Canceled, "Canceled.", auth.ErrPromptCanceled)
				}

				msg, err := app.API.AcceptInvitation(ctx, id, password)
				if err != nil {
					return err
				}
				if _, err := refreshProjectCache(ctx, app, ""); err != nil {
					log.Warn().Err(err).Msg("Failed to refresh the project cache")
				}
				return app.Printer().Message(ctx, msg.Text())
			},
		},
		&cobra.Command{
			Use:   "reject [invitation]",
			Short: "Reject an invitation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := app.requireLogin(); err != nil {
					return err
				}
				id, err := parseID("invitation id", args[0])
				if err != nil {
					return err
				}
				msg, err := app.API.RejectInvitation(cmd.Context(), id)
				if err != nil {
					return err
				}
				return app.Printer().Message(cmd.Context(), msg.Text())
			},
		},
	)

	return cmd
}
