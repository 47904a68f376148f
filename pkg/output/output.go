// Package output renders command results as a table, JSON or YAML, with an
// optional jq filter applied to the JSON form.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format specifies the output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (must be one of: table, json, yaml)", s)
	}
}

// Table is the tabular view of a result.
type Table struct {
	Header []string
	Rows   [][]string
}

// Append adds a row built from its cells' default string form.
func (t *Table) Append(cells ...any) {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = strings.ReplaceAll(fmt.Sprint(c), "\n", " ")
	}
	t.Rows = append(t.Rows, row)
}

// Printer writes results in the configured format.
type Printer struct {
	w      io.Writer
	format Format
	query  *gojq.Code
}

// NewPrinter returns a Printer. A non-empty jq expression forces JSON
// processing regardless of format.
func NewPrinter(w io.Writer, format Format, jq string) (*Printer, error) {
	p := &Printer{w: w, format: format}
	if strings.TrimSpace(jq) == "" {
		return p, nil
	}
	q, err := gojq.Parse(jq)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	p.query = code
	return p, nil
}

// Format returns the configured format.
func (p *Printer) Format() Format { return p.format }

// Print renders v. table is used for FormatTable and may be nil, in which
// case the JSON form is printed instead.
func (p *Printer) Print(ctx context.Context, v any, table *Table) error {
	if p.query != nil {
		return p.runQuery(ctx, v)
	}
	switch p.format {
	case FormatYAML:
		return p.writeYAML(v)
	case FormatTable:
		if table != nil {
			p.writeTable(table)
			return nil
		}
	}
	return p.writeJSON(v)
}

// Message prints a one-line status. Structured formats wrap it as
// {"message": text}.
func (p *Printer) Message(ctx context.Context, text string) error {
	if p.format == FormatTable && p.query == nil {
		_, err := fmt.Fprintln(p.w, text)
		return err
	}
	return p.Print(ctx, map[string]string{"message": text}, nil)
}

func (p *Printer) writeJSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) writeYAML(v any) error {
	data, err := normalize(v)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

func (p *Printer) writeTable(t *Table) {
	table := tablewriter.NewWriter(p.w)
	table.SetHeader(t.Header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)
	table.AppendBulk(t.Rows)
	table.Render()
}

func (p *Printer) runQuery(ctx context.Context, v any) error {
	data, err := normalize(v)
	if err != nil {
		return err
	}
	iter := p.query.RunWithContext(ctx, data)
	for {
		res, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := res.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		// Strings print raw so results compose with shell pipelines.
		if s, isStr := res.(string); isStr {
			if _, err := fmt.Fprintln(p.w, s); err != nil {
				return err
			}
			continue
		}
		b, err := gojq.Marshal(res)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(p.w, string(b)); err != nil {
			return err
		}
	}
}

// normalize converts typed values into the map/slice tree that YAML and jq
// expect, keyed by the JSON field names.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
