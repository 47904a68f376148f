package cmd

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/habedi/apsq/config"
	"github.com/habedi/apsq/pkg/apitest"
	"github.com/stretchr/testify/require"
)

// scriptedPrompter answers prompts from a fixed list.
type scriptedPrompter struct {
	answers []string
	asked   []string
}

func (p *scriptedPrompter) next(label string) (string, error) {
	p.asked = append(p.asked, label)
	if len(p.answers) == 0 {
		return "", io.EOF
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *scriptedPrompter) Prompt(label string) (string, error) { return p.next(label) }
func (p *scriptedPrompter) Secret(label string) (string, error) { return p.next(label) }

// answer queues answers for the next prompts.
func (p *scriptedPrompter) answer(a ...string) { p.answers = append(p.answers, a...) }

type harness struct {
	t        *testing.T
	srv      *apitest.Server
	app      *App
	out      *bytes.Buffer
	errOut   *bytes.Buffer
	prompter *scriptedPrompter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		srv:      apitest.New(t),
		out:      &bytes.Buffer{},
		errOut:   &bytes.Buffer{},
		prompter: &scriptedPrompter{},
	}
	cfg := &config.Config{
		APIBaseURL:        h.srv.URL,
		HTTPTimeout:       5 * time.Second,
		DBPath:            filepath.Join(t.TempDir(), "apsq.db"),
		CredentialBackend: config.BackendDB,
		NoSpinner:         true,
		ChallengeAttempts: 3,
	}
	app, err := newApp(context.Background(), cfg, h.out, h.errOut, h.prompter)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	h.app = app
	return h
}

// run executes the CLI and returns stdout and the exit code.
func (h *harness) run(args ...string) (string, int) {
	h.t.Helper()
	h.out.Reset()
	h.errOut.Reset()
	code := run(context.Background(), h.app, args, h.errOut)
	return h.out.String(), code
}

// login registers a user on the fake server and logs in through the CLI.
func (h *harness) login(email, password string) {
	h.t.Helper()
	h.prompter.answer(password)
	out, code := h.run("login", "--email", email)
	require.Equal(h.t, 0, code, "login failed: %s %s", out, h.errOut.String())
}
