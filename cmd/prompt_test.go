package cmd

import (
	"bufio"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/habedi/apsq/auth"
	"github.com/habedi/apsq/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengePrompter_Labels(t *testing.T) {
	db.Path = filepath.Join(t.TempDir(), "apsq.db")
	require.NoError(t, db.InitDB())
	t.Cleanup(func() { _ = db.CloseDB() })

	projects := db.NewProjectRepository(db.GetDB())
	require.NoError(t, projects.ReplaceAll(context.Background(), []db.Project{{ID: "p-1", Name: "Bread"}}))

	p := &scriptedPrompter{}
	p.answer("first", "second", "third")
	cp := &challengePrompter{prompter: p, projects: projects, attempts: 3}

	secret, err := cp.PromptSecret(context.Background(), "p-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "first", secret)

	_, err = cp.PromptSecret(context.Background(), "p-1", 2)
	require.NoError(t, err)

	_, err = cp.PromptSecret(context.Background(), "p-unknown", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Password for project Bread: ",
		"Wrong password, try again (2/3): ",
		"Password for project p-unknown: ",
	}, p.asked)
}

func TestChallengePrompter_EmptyAnswerCancels(t *testing.T) {
	p := &scriptedPrompter{}
	p.answer("")
	cp := &challengePrompter{prompter: p, attempts: 3}

	_, err := cp.PromptSecret(context.Background(), "p-1", 1)
	assert.ErrorIs(t, err, auth.ErrPromptCanceled)
}

func TestChallengePrompter_WhitespaceAnswerCancels(t *testing.T) {
	p := &scriptedPrompter{}
	p.answer("   ")
	cp := &challengePrompter{prompter: p, attempts: 3}

	_, err := cp.PromptSecret(context.Background(), "p-1", 1)
	assert.ErrorIs(t, err, auth.ErrPromptCanceled)
}

func TestTerminalPrompter_SecretKeepsSurroundingSpaces(t *testing.T) {
	p := &terminalPrompter{
		in:  bufio.NewReader(strings.NewReader("  open sesame \r\n  ada@example.com \n")),
		out: io.Discard,
	}

	secret, err := p.Secret("Project password: ")
	require.NoError(t, err)
	assert.Equal(t, "  open sesame ", secret)

	email, err := p.Prompt("Email: ")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)

	_, err = p.Prompt("Email: ")
	assert.ErrorIs(t, err, io.EOF)
}

func TestPromptMissing_SecretFlagIsNotTrimmed(t *testing.T) {
	p := &scriptedPrompter{}
	got, err := promptMissing(p, " key with spaces ", "Access key: ", true)
	require.NoError(t, err)
	assert.Equal(t, " key with spaces ", got)
	assert.Empty(t, p.asked)
}

func TestChallengePrompter_CanceledContext(t *testing.T) {
	p := &scriptedPrompter{}
	cp := &challengePrompter{prompter: p, attempts: 3}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cp.PromptSecret(ctx, "p-1", 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.asked)
}

func TestPromptMissing(t *testing.T) {
	p := &scriptedPrompter{}
	p.answer("typed")

	got, err := promptMissing(p, "  given ", "Email: ", false)
	require.NoError(t, err)
	assert.Equal(t, "given", got)
	assert.Empty(t, p.asked)

	got, err = promptMissing(p, "", "Email: ", false)
	require.NoError(t, err)
	assert.Equal(t, "typed", got)
	assert.Equal(t, []string{"Email: "}, p.asked)
}
