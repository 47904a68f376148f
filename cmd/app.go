package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/habedi/apsq/auth"
	"github.com/habedi/apsq/client"
	"github.com/habedi/apsq/config"
	"github.com/habedi/apsq/db"
	"github.com/habedi/apsq/pkg/output"
	"github.com/habedi/apsq/session"
	"github.com/rs/zerolog/log"
)

// App bundles everything a command needs. One App serves one process.
type App struct {
	Config   *config.Config
	Session  *session.State
	Gateway  *client.Gateway
	API      *client.API
	Auth     *auth.Service
	Resolver *auth.ChallengeResolver
	Projects db.ProjectRepository
	Prompter Prompter

	out     io.Writer
	errOut  io.Writer
	printer *output.Printer
	closers []func()
}

// newApp opens the local database, restores the stored session and wires the
// gateway events to the auth service and the challenge resolver.
func newApp(ctx context.Context, cfg *config.Config, out, errOut io.Writer, prompter Prompter) (*App, error) {
	db.Path = cfg.DBPath
	if err := db.InitDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app := &App{Config: cfg, Prompter: prompter, out: out, errOut: errOut}
	app.closers = append(app.closers, func() {
		if err := db.CloseDB(); err != nil {
			log.Error().Err(err).Msg("Failed to close the database.")
		}
	})

	var store session.Store
	switch cfg.CredentialBackend {
	case config.BackendKeyring:
		store = session.NewKeyringStore(cfg.APIBaseURL)
	default:
		store = &credentialStore{repo: db.NewCredentialRepository(db.GetDB(), db.LockPath())}
	}

	app.Session = session.New(store)
	if err := app.Session.Restore(ctx); err != nil {
		app.Close()
		return nil, err
	}

	app.Gateway = client.NewGateway(cfg.APIBaseURL, app.Session, client.WithTimeout(cfg.HTTPTimeout))
	app.API = client.NewAPI(app.Gateway)
	app.Projects = db.NewProjectRepository(db.GetDB())
	app.Auth = auth.NewService(app.Session, app.API, db.NewProfileRepository(db.GetDB()), app.Projects)

	unsubscribe := app.Gateway.Events().SessionExpired.Subscribe(app.Auth.HandleSessionExpired)
	app.closers = append(app.closers, unsubscribe)

	app.Resolver = auth.NewChallengeResolver(
		app.Gateway.Events().Challenges,
		app.API,
		app.Gateway,
		&challengePrompter{prompter: prompter, projects: app.Projects, attempts: cfg.ChallengeAttempts},
		cfg.ChallengeAttempts,
	)
	app.closers = append(app.closers, app.Resolver.Close)

	if !cfg.NoSpinner {
		sp := newSpinner(errOut)
		app.Session.SetLoaderObserver(sp.Observe)
		app.closers = append(app.closers, sp.Stop)
	}

	log.Debug().Str("api", cfg.APIBaseURL).Str("backend", cfg.CredentialBackend).Msg("App initialized")
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// setOutput configures the printer from the global flags.
func (a *App) setOutput(format, jq string) error {
	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}
	p, err := output.NewPrinter(a.out, f, jq)
	if err != nil {
		return err
	}
	a.printer = p
	return nil
}

// Printer returns the configured printer, defaulting to tables.
func (a *App) Printer() *output.Printer {
	if a.printer == nil {
		a.printer, _ = output.NewPrinter(a.out, output.FormatTable, "")
	}
	return a.printer
}

// requireLogin fails fast when no session is held.
func (a *App) requireLogin() error {
	if !a.Session.Authenticated() {
		return errNotLoggedIn
	}
	return nil
}
