package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/habedi/apsq/auth"
	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/pkg/clierr"
	"github.com/habedi/apsq/pkg/output"
	"github.com/habedi/apsq/pkg/pool"
	"github.com/habedi/apsq/pkg/validation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func recipesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recipes",
		Aliases: []string{"recipe", "r"},
		Short:   "Browse and create recipes",
	}

	cmd.AddCommand(
		listRecipesCmd(app),
		showRecipeCmd(app),
		createRecipeCmd(app),
	)

	return cmd
}

func listRecipesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list [project]",
		Short: "List the recipes of a project",
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

			recipes, err := projectRecipes(ctx, app, id)
			if err != nil {
				return err
			}
			table := &output.Table{Header: []string{"ID", "Name"}}
			for _, r := range recipes {
				table.Append(r.ID, r.Name)
			}
			return app.Printer().Print(ctx, recipes, table)
		},
	}
}

func projectRecipes(ctx context.Context, app *App, projectID string) ([]client.RecipeSummary, error) {
	return auth.Protected(ctx, app.Resolver, func(ctx context.Context) ([]client.RecipeSummary, error) {
		return app.API.ProjectRecipes(ctx, projectID)
	})
}

// describeCombination renders the tag values of a combination as
// "salt=2, sugar=5".
func describeCombination(c client.Combination) string {
	parts := make([]string, 0, len(c.TagValues))
	for _, tv := range c.TagValues {
		parts = append(parts, fmt.Sprintf("%s=%g", tv.Tag.Name, tv.Value))
	}
	return strings.Join(parts, ", ")
}

func recipeTable(recipes []client.Recipe) *output.Table {
	table := &output.Table{Header: []string{"Recipe", "Name", "Order", "Combination", "Tag Values"}}
	for _, r := range recipes {
		if len(r.RecipeCombinations) == 0 {
			table.Append(r.ID, r.Name, "-", "-", "-")
		}
		for _, rc := range r.RecipeCombinations {
			table.Append(r.ID, r.Name, rc.Order, rc.Combination.Name, describeCombination(rc.Combination))
		}
	}
	return table
}

// showRecipeCmd prints one recipe, or every recipe of a project with --all.
// Details are fetched concurrently with a worker pool.
func showRecipeCmd(app *App) *cobra.Command {
	var all bool
	var projectArg string
	var threads int

	cmd := &cobra.Command{
		Use:   "show [recipe]",
		Short: "Show a recipe with its ordered combinations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}

			if !all {
				if len(args) != 1 {
					return clierr.New(clierr.Validation, "Give a recipe id, or --all with --project.", nil)
				}
				id, err := parseID("recipe id", args[0])
				if err != nil {
					return err
				}
				recipe, err := app.API.Recipe(ctx, id)
				if err != nil {
					return err
				}
				return app.Printer().Print(ctx, recipe, recipeTable([]client.Recipe{*recipe}))
			}

			if projectArg == "" {
				return clierr.New(clierr.Validation, "--all needs --project.", nil)
			}
			if err := validationError(validation.ValidateThreadCount(threads)); err != nil {
				return err
			}
			projectID, err := resolveProjectID(ctx, app, projectArg)
			if err != nil {
				return err
			}
			summaries, err := projectRecipes(ctx, app, projectID)
			if err != nil {
				return err
			}

			results := pool.Map(ctx, summaries, threads, func(ctx context.Context, s client.RecipeSummary) (*client.Recipe, error) {
				return app.API.Recipe(ctx, s.ID)
			})

			recipes := make([]client.Recipe, 0, len(results))
			var failed []error
			for i, r := range results {
				if r.Err != nil {
					log.Error().Err(r.Err).Int("recipe", summaries[i].ID).Msg("Failed to fetch recipe")
					failed = append(failed, r.Err)
					continue
				}
				recipes = append(recipes, *r.Value)
			}
			if err := app.Printer().Print(ctx, recipes, recipeTable(recipes)); err != nil {
				return err
			}
			if len(failed) > 0 {
				return clierr.New(clierr.Request, fmt.Sprintf("%d of %d recipes could not be fetched.", len(failed), len(summaries)), failed[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Show every recipe of --project")
	cmd.Flags().StringVarP(&projectArg, "project", "p", "", "Project id or code used with --all")
	cmd.Flags().IntVarP(&threads, "threads", "t", 5, "Concurrent fetches for --all [1-20]")

	return cmd
}

func createRecipeCmd(app *App) *cobra.Command {
	var name string
	var combinationIDs []int

	cmd := &cobra.Command{
		Use:   "create [project]",
		Short: "Create a recipe from an ordered list of combinations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.requireLogin(); err != nil {
				return err
			}
			if err := validationError(validation.ValidateNonEmptyString("recipe name", name)); err != nil {
				return err
			}
			if len(combinationIDs) == 0 {
				return clierr.New(clierr.Validation, "Give at least one --combination.", nil)
			}
			for _, c := range combinationIDs {
				if err := validationError(validation.ValidatePositiveID("combination id", c)); err != nil {
					return err
				}
			}
			id, err := resolveProjectID(ctx, app, args[0])
			if err != nil {
				return err
			}

			recipe := client.NewRecipe{Name: strings.TrimSpace(name), CombinationIDs: combinationIDs}
			created, err := auth.Protected(ctx, app.Resolver, func(ctx context.Context) (*client.RecipeSummary, error) {
				return app.API.CreateRecipe(ctx, id, recipe)
			})
			if err != nil {
				return err
			}
			if app.Printer().Format() != output.FormatTable {
				return app.Printer().Print(ctx, created, nil)
			}
			return app.Printer().Message(ctx, fmt.Sprintf("Created recipe %d (%s).", created.ID, created.Name))
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Recipe name")
	cmd.Flags().IntSliceVarP(&combinationIDs, "combination", "c", nil, "Combination id, in order (repeatable)")

	return cmd
}

func tagsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List the measurable tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			tags, err := app.API.Tags(cmd.Context())
			if err != nil {
				return err
			}
			table := &output.Table{Header: []string{"ID", "Name", "Default"}}
			for _, t := range tags {
				table.Append(t.ID, t.Name, t.DefaultValue)
			}
			return app.Printer().Print(cmd.Context(), tags, table)
		},
	}
}

func combinationsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "combinations",
		Short: "List the reusable tag combinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			combos, err := app.API.Combinations(cmd.Context())
			if err != nil {
				return err
			}
			table := &output.Table{Header: []string{"ID", "Name", "Tag Values"}}
			for _, c := range combos {
				table.Append(c.ID, c.Name, describeCombination(c))
			}
			return app.Printer().Print(cmd.Context(), combos, table)
		},
	}
}
