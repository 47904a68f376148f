package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/habedi/apsq/auth"
	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/pkg/clierr"
	"github.com/habedi/apsq/pkg/output"
	"github.com/habedi/apsq/pkg/validation"
	"github.com/spf13/cobra"
)

func membersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "members",
		Aliases: []string{"member", "m"},
		Short:   "Manage project members",
	}

	cmd.AddCommand(
		listMembersCmd(app),
		memberRoleCmd(app),
		revokeMemberCmd(app),
		inviteMemberCmd(app),
	)

	return cmd
}

func parseID(name, arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, clierr.New(clierr.Validation, fmt.Sprintf("Invalid %s: %q.", name, arg), err)
	}
	return id, validationError(validation.ValidatePositiveID(name, id))
}

func listMembersCmd(app *App) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list [project]",
		Short: "List the members of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}
			if err := validationError(validation.ValidatePageSize(limit, offset)); err != nil {
				return err
			}
			id, err := resolveProjectID(ctx, app, args[0])
			if err != nil {
				return err
			}

			page, err := auth.Protected(ctx, app.Resolver, func(ctx context.Context) (*client.MemberPage, error) {
				return app.API.Members(ctx, id, limit, offset)
			})
			if err != nil {
				return err
			}

			table := &output.Table{Header: []string{"ID", "Email", "Name", "Role", "Status"}}
			for _, m := range page.Results {
				table.Append(m.ID, m.Email, m.FullName, m.Role, m.Status)
			}
			if err := app.Printer().Print(ctx, page, table); err != nil {
				return err
			}
			if app.Printer().Format() == output.FormatTable && offset+len(page.Results) < page.Count {
				cmd.PrintErrf("Showing %d-%d of %d members. Use --offset %d for more.\n",
					offset+1, offset+len(page.Results), page.Count, offset+len(page.Results))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Members per page")
	cmd.Flags().IntVar(&offset, "offset", 0, "Members to skip")

	return cmd
}

func memberRoleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "role [project] [member] [admin|user]",
		Short: "Change a member's role (admins only)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}
			memberID, err := parseID("member id", args[1])
			if err != nil {
				return err
			}
			role := strings.ToLower(strings.TrimSpace(args[2]))
			if err := validationError(validation.ValidateRole(role)); err != nil {
				return err
			}
			id, err := resolveProjectID(ctx, app, args[0])
			if err != nil {
				return err
			}

			err = auth.ProtectedExec(ctx, app.Resolver, func(ctx context.Context) error {
				return app.API.ChangeMemberRole(ctx, id, memberID, role)
			})
			if err != nil {
				return err
			}
			return app.Printer().Message(ctx, fmt.Sprintf("Member %d is now %s.", memberID, role))
		},
	}
}

func revokeMemberCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [project] [member]",
		Short: "Remove a member from a project (admins only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}
			memberID, err := parseID("member id", args[1])
			if err != nil {
				return err
			}
			id, err := resolveProjectID(ctx, app, args[0])
			if err != nil {
				return err
			}

			err = auth.ProtectedExec(ctx, app.Resolver, func(ctx context.Context) error {
				return app.API.RevokeMember(ctx, id, memberID)
			})
			if err != nil {
				return err
			}
			return app.Printer().Message(ctx, fmt.Sprintf("Member %d removed.", memberID))
		},
	}
}

// inviteMemberCmd looks the user up by email first, because invitations are
// addressed by user id.
func inviteMemberCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "invite [project] [email]",
		Short: "Invite a registered user to a project (admins only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}
			email := strings.TrimSpace(args[1])
			if err := validationError(validation.ValidateEmail(email)); err != nil {
				return err
			}
			id, err := resolveProjectID(ctx, app, args[0])
			if err != nil {
				return err
			}

			matches, err := auth.Protected(ctx, app.Resolver, func(ctx context.Context) ([]client.UserMatch, error) {
				return app.API.SearchUsers(ctx, id, email)
			})
			if err != nil {
				return err
			}

			userID := 0
			for _, u := range matches {
				if strings.EqualFold(u.Email, email) {
					userID = u.ID
					break
				}
			}
			if userID == 0 {
				return clierr.New(clierr.NotFound, fmt.Sprintf("No user %s can be invited to this project.", email), nil)
			}

			msg, err := auth.Protected(ctx, app.Resolver, func(ctx context.Context) (client.Message, error) {
				return app.API.Invite(ctx, id, userID)
			})
			if err != nil {
				return err
			}
			return app.Printer().Message(ctx, msg.Text())
		},
	}
}
