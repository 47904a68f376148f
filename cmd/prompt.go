package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/habedi/apsq/auth"
	"github.com/habedi/apsq/db"
	"golang.org/x/term"
)

// Prompter reads answers from the user. Secret does not echo on a terminal.
type Prompter interface {
	Prompt(label string) (string, error)
	Secret(label string) (string, error)
}

type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

// newTerminalPrompter reads from stdin and writes prompts to stderr so that
// stdout stays clean for command output.
func newTerminalPrompter() *terminalPrompter {
	fd := int(os.Stdin.Fd())
	return &terminalPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		fd:  fd,
		tty: term.IsTerminal(fd),
	}
}

func (p *terminalPrompter) Prompt(label string) (string, error) {
	line, err := p.readLine(label)
	return strings.TrimSpace(line), err
}

// Secret returns the answer verbatim apart from the line ending. Passwords
// may start or end with spaces.
func (p *terminalPrompter) Secret(label string) (string, error) {
	if !p.tty {
		return p.readLine(label)
	}
	fmt.Fprint(p.out, label)
	secret, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out) // Print a newline for better formatting
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}

func (p *terminalPrompter) readLine(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// challengePrompter asks for a project password on behalf of the challenge
// resolver. An empty answer abandons the challenge.
type challengePrompter struct {
	prompter Prompter
	projects db.ProjectRepository
	attempts int
}

func (c *challengePrompter) PromptSecret(ctx context.Context, projectID string, attempt int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := projectID
	if c.projects != nil {
		if p, err := c.projects.GetByID(ctx, projectID); err == nil && p != nil {
			name = p.Name
		}
	}

	label := fmt.Sprintf("Password for project %s: ", name)
	if attempt > 1 {
		label = fmt.Sprintf("Wrong password, try again (%d/%d): ", attempt, c.attempts)
	}
	secret, err := c.prompter.Secret(label)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(secret) == "" {
		return "", auth.ErrPromptCanceled
	}
	return secret, nil
}

// promptMissing asks for value when it was not given as a flag. Secrets are
// returned untrimmed.
func promptMissing(p Prompter, value, label string, secret bool) (string, error) {
	if strings.TrimSpace(value) != "" {
		if secret {
			return value, nil
		}
		return strings.TrimSpace(value), nil
	}
	if secret {
		return p.Secret(label)
	}
	return p.Prompt(label)
}
