package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/habedi/apsq/auth"
	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/db"
	"github.com/habedi/apsq/pkg/clierr"
	"github.com/habedi/apsq/pkg/output"
	"github.com/habedi/apsq/pkg/validation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func projectsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project", "p"},
		Short:   "Manage projects",
	}

	cmd.AddCommand(
		listProjectsCmd(app),
		searchProjectsCmd(app),
		createProjectCmd(app),
		showProjectCmd(app),
		unlockProjectCmd(app),
		changeProjectPasswordCmd(app),
		deleteProjectCmd(app),
	)

	return cmd
}

// refreshProjectCache fetches the project list. The full list (scope "")
// also replaces the local cache.
func refreshProjectCache(ctx context.Context, app *App, scope string) ([]client.Project, error) {
	var (
		projects []client.Project
		err      error
	)
	switch scope {
	case "owned":
		projects, err = app.API.OwnedProjects(ctx)
	case "joined":
		projects, err = app.API.JoinedProjects(ctx)
	default:
		projects, err = app.API.MyProjects(ctx)
	}
	if err != nil || scope != "" {
		return projects, err
	}

	rows := make([]db.Project, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, db.Project{
			ID:         p.ID,
			Name:       p.Name,
			PublicCode: p.PublicCode,
			Role:       p.Role,
			IsOwner:    p.IsOwner,
			Created:    p.CreatedAt,
		})
	}
	if err := app.Projects.ReplaceAll(ctx, rows); err != nil {
		log.Warn().Err(err).Msg("Failed to update the project cache")
	}
	return projects, nil
}

// resolveProjectID accepts a project UUID or public code and returns the
// UUID the API addresses projects by.
func resolveProjectID(ctx context.Context, app *App, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if err := validation.ValidateProjectID(arg); err != nil {
		return "", validationError(err)
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "APSQ-") {
		return strings.ToLower(arg), nil
	}

	find := func() (string, error) {
		matches, err := app.Projects.Search(ctx, arg)
		if err != nil {
			return "", err
		}
		for _, p := range matches {
			if strings.EqualFold(p.PublicCode, arg) {
				return p.ID, nil
			}
		}
		return "", nil
	}

	if id, err := find(); err != nil || id != "" {
		return id, err
	}
	if _, err := refreshProjectCache(ctx, app, ""); err != nil {
		return "", err
	}
	if id, err := find(); err != nil || id != "" {
		return id, err
	}
	return "", clierr.New(clierr.NotFound, fmt.Sprintf("No project with code %s.", strings.ToUpper(arg)), nil)
}

func projectTable(projects []client.Project) *output.Table {
	table := &output.Table{Header: []string{"Name", "Code", "Role", "Owner", "ID"}}
	for _, p := range projects {
		table.Append(p.Name, p.PublicCode, p.Role, yesNo(p.IsOwner), p.ID)
	}
	return table
}

func listProjectsCmd(app *App) *cobra.Command {
	var owned, joined bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			if owned && joined {
				return clierr.New(clierr.Validation, "Use either --owned or --joined, not both.", nil)
			}

			scope := ""
			if owned {
				scope = "owned"
			} else if joined {
				scope = "joined"
			}

			projects, err := refreshProjectCache(cmd.Context(), app, scope)
			if err != nil {
				return err
			}
			if len(projects) == 0 && app.Printer().Format() == output.FormatTable {
				return app.Printer().Message(cmd.Context(), "No projects found. Use `apsq projects create` to start one.")
			}
			return app.Printer().Print(cmd.Context(), projects, projectTable(projects))
		},
	}

	cmd.Flags().BoolVar(&owned, "owned", false, "Only projects you own")
	cmd.Flags().BoolVar(&joined, "joined", false, "Only projects you joined")

	return cmd
}

func searchProjectsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search [text]",
		Short: "Search the cached project list by name or code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(args[0])
			if err := validationError(validation.ValidateNonEmptyString("search text", text)); err != nil {
				return err
			}

			rows, err := app.Projects.Search(cmd.Context(), text)
			if err != nil {
				return err
			}

			table := &output.Table{Header: []string{"Name", "Code", "Role", "Owner", "ID"}}
			for _, p := range rows {
				table.Append(p.Name, p.PublicCode, p.Role, yesNo(p.IsOwner), p.ID)
			}
			if len(rows) == 0 && app.Printer().Format() == output.FormatTable {
				return app.Printer().Message(cmd.Context(), fmt.Sprintf("No cached project matches %q. Run `apsq projects list` to refresh the cache.", text))
			}
			return app.Printer().Print(cmd.Context(), rows, table)
		},
	}
}

// parseMembers reads email:role pairs. The role defaults to user.
func parseMembers(specs []string) ([]client.MemberInput, error) {
	members := make([]client.MemberInput, 0, len(specs))
	for _, s := range specs {
		email, role, found := strings.Cut(strings.TrimSpace(s), ":")
		if !found {
			role = validation.RoleUser
		}
		m := client.MemberInput{Email: strings.TrimSpace(email), Role: strings.ToLower(strings.TrimSpace(role))}
		if err := validation.ValidateEmail(m.Email); err != nil {
			return nil, err
		}
		if err := validation.ValidateRole(m.Role); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

// withCreatorAsAdmin lists the creator as an admin when no admin was given,
// matching the root admin row of the project creation form.
func withCreatorAsAdmin(members []client.MemberInput, creator string) []client.MemberInput {
	if creator == "" {
		return members
	}
	for i, m := range members {
		if strings.EqualFold(m.Email, creator) {
			members[i].Role = validation.RoleAdmin
			return members
		}
	}
	for _, m := range members {
		if m.Role == validation.RoleAdmin {
			return members
		}
	}
	return append([]client.MemberInput{{Email: creator, Role: validation.RoleAdmin}}, members...)
}

func createProjectCmd(app *App) *cobra.Command {
	var name, accessKey string
	var memberSpecs []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		Long: "Create a project protected by an access key. Up to three members may be invited with\n" +
			"--member email[:admin|user]; you are added as an admin unless another admin is listed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}

			members, err := parseMembers(memberSpecs)
			if err != nil {
				return validationError(err)
			}
			if status, err := app.Auth.Status(ctx); err == nil && status.Profile != nil {
				members = withCreatorAsAdmin(members, status.Profile.Email)
			}

			if accessKey, err = promptMissing(app.Prompter, accessKey, "Project access key: ", true); err != nil {
				return err
			}
			project := client.NewProject{Name: strings.TrimSpace(name), AccessKey: accessKey, Members: members}
			if err := validationError(validation.ValidateNewProject(project)); err != nil {
				return err
			}

			created, err := app.API.CreateProject(ctx, project)
			if err != nil {
				return err
			}
			if _, err := refreshProjectCache(ctx, app, ""); err != nil {
				log.Warn().Err(err).Msg("Failed to refresh the project cache")
			}

			if app.Printer().Format() != output.FormatTable {
				return app.Printer().Print(ctx, created, nil)
			}
			p := app.Printer()
			if err := p.Message(ctx, fmt.Sprintf("Created project %s (%s).", created.Project.Name, created.Project.PublicCode)); err != nil {
				return err
			}
			return p.Message(ctx, fmt.Sprintf("Project PIN: %s\nStore it safely: it is shown only once and is required to delete the project.", created.PIN))
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Project name")
	cmd.Flags().StringVarP(&accessKey, "access-key", "k", "", "Project access key (prompted when omitted)")
	cmd.Flags().StringArrayVarP(&memberSpecs, "member", "m", nil, "Member to invite as email[:admin|user] (repeatable)")

	return cmd
}

func showProjectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show [project]",
		Short: "Show a project overview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}
			id, err := resolveProjectID(ctx, app, args[0])
			if err != nil {
				return err
			}

			overview, err := auth.Protected(ctx, app.Resolver, func(ctx context.Context) (client.ProjectOverview, error) {
				return app.API.ProjectOverview(ctx, id)
			})
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(overview))
			for k := range overview {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			table := &output.Table{Header: []string{"Field", "Value"}}
			for _, k := range keys {
				table.Append(k, rawText(overview[k]))
			}
			return app.Printer().Print(ctx, overview, table)
		},
	}
}

func unlockProjectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock [project]",
		Short: "Verify a project password for this session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}
			id, err := resolveProjectID(ctx, app, args[0])
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
			if err := app.API.VerifyProjectPassword(ctx, id, password); err != nil {
				return err
			}
			return app.Printer().Message(ctx, "Access granted.")
		},
	}
}

func changeProjectPasswordCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "change-password [project]",
		Short: "Change a project's access key (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}
			id, err := resolveProjectID(ctx, app, args[0])
			if err != nil {
				return err
			}

			next, err := app.Prompter.Secret("New access key: ")
			if err != nil {
				return err
			}
			if err := validationError(validation.ValidateAccessKey(next)); err != nil {
				return err
			}
			confirm, err := app.Prompter.Secret("Confirm new access key: ")
			if err != nil {
				return err
			}
			if confirm != next {
				return clierr.New(clierr.Validation, "Access keys do not match.", nil)
			}

			msg, err := auth.Protected(ctx, app.Resolver, func(ctx context.Context) (client.Message, error) {
				return app.API.ChangeProjectPassword(ctx, id, next)
			})
			if err != nil {
				return err
			}
			return app.Printer().Message(ctx, msg.Text())
		},
	}
}

func deleteProjectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [project]",
		Short: "Delete a project (owner only, requires the PIN)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}
			id, err := resolveProjectID(ctx, app, args[0])
			if err != nil {
				return err
			}

			pin, err := app.Prompter.Secret("Project PIN: ")
			if err != nil {
				return err
			}
			if err := validationError(validation.ValidateNonEmptyString("PIN", pin)); err != nil {
				return err
			}
			if err := app.API.DeleteProject(ctx, id, pin); err != nil {
				return err
			}
			if _, err := refreshProjectCache(ctx, app, ""); err != nil {
				log.Warn().Err(err).Msg("Failed to refresh the project cache")
			}
			return app.Printer().Message(ctx, "Project deleted.")
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// rawText renders a JSON value for a table cell, unquoting plain strings.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
