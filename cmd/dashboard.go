package cmd

import (
	"github.com/habedi/apsq/auth"
	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/pkg/output"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type dashboard struct {
	Profile     *auth.Status        `json:"account"`
	Projects    []client.Project    `json:"projects"`
	Invitations []client.Invitation `json:"pending_invitations"`
}

// dashboardCmd fetches the account summary concurrently. The first failure
// cancels the other calls.
func dashboardCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize your account, projects and pending invitations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}

			var d dashboard
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				status, err := app.Auth.Status(ctx)
				d.Profile = &status
				return err
			})
			g.Go(func() error {
				projects, err := refreshProjectCache(ctx, app, "")
				d.Projects = projects
				return err
			})
			g.Go(func() error {
				invitations, err := app.API.PendingInvitations(ctx)
				d.Invitations = invitations
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			owned := 0
			for _, p := range d.Projects {
				if p.IsOwner {
					owned++
				}
			}
			name := "-"
			if d.Profile.Profile != nil {
				name = d.Profile.Profile.FullName + " <" + d.Profile.Profile.Email + ">"
			}

			table := &output.Table{Header: []string{"Item", "Value"}}
			table.Append("Account", name)
			table.Append("Projects", len(d.Projects))
			table.Append("Owned", owned)
			table.Append("Joined", len(d.Projects)-owned)
			table.Append("Pending invitations", len(d.Invitations))
			return app.Printer().Print(cmd.Context(), d, table)
		},
	}
}
