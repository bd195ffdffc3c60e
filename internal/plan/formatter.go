package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// Format selects a plan rendering.
type Format string

// Supported formats.
const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatTable    Format = "table"
)

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "tree":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	}
	return "", fmt.Errorf("unknown plan format %q (want text, markdown, json or table)", s)
}

// Render writes p to w in the given format.
func Render(w io.Writer, p *core.ExecutionPlan, f Format) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, p)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(p))
		return err
	case FormatTable:
		_, err := io.WriteString(w, Table(p))
		return err
	default:
		_, err := io.WriteString(w, Text(p))
		return err
	}
}

// WriteJSON writes the plan document as indented JSON.
func WriteJSON(w io.Writer, p *core.ExecutionPlan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

type section struct {
	title string
	lines []string
}

// Text renders the plan as a tree followed by counts and the numbered
// execution order.
func Text(p *core.ExecutionPlan) string {
	var b strings.Builder
	if !p.HasChanges() {
		fmt.Fprintf(&b, "No changes. Environment %s is up to date.\n", p.Environment)
		return b.String()
	}

	fmt.Fprintf(&b, "Summary of changes for %s:\n", p.Environment)
	b.WriteString("Models:\n")

	var sections []section
	add := func(title string, lines []string) {
		if len(lines) > 0 {
			sections = append(sections, section{title, lines})
		}
	}
	var modified, added, deleted, indirect []string
	for _, c := range p.Changes {
		switch {
		case c.ChangeType == core.ChangeNew:
			added = append(added, c.ModelName)
		case c.ChangeType == core.ChangeDeleted:
			deleted = append(deleted, c.ModelName)
		case c.ChangeType == core.ChangeDownstreamUpdate:
			indirect = append(indirect, fmt.Sprintf("%s (upstream: %s)", c.ModelName, upstreamCause(c)))
		case c.DirectlyModified:
			modified = append(modified, fmt.Sprintf("%s (%s)", c.ModelName, DescribeChange(c)))
		}
	}
	add("Modified", modified)
	add("New", added)
	add("Deleted", deleted)
	add("Indirectly Modified", indirect)

	for i, s := range sections {
		head, indent := "├── ", "│   "
		if i == len(sections)-1 {
			head, indent = "└── ", "    "
		}
		b.WriteString(head + s.title + ":\n")
		for j, line := range s.lines {
			branch := "├── "
			if j == len(s.lines)-1 {
				branch = "└── "
			}
			b.WriteString(indent + branch + line + "\n")
		}
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Directly Modified: %d models\n", p.Summary.DirectlyModified+p.Summary.New)
	fmt.Fprintf(&b, "Indirectly Modified: %d models\n", p.Summary.IndirectlyModified)
	if p.Summary.Deleted > 0 {
		fmt.Fprintf(&b, "Deleted: %d models\n", p.Summary.Deleted)
	}

	if len(p.ExecutionOrder) > 0 {
		b.WriteString("\nExecution Plan:\n")
		for i, name := range p.ExecutionOrder {
			fmt.Fprintf(&b, "%2d. %s [%s]\n", i+1, name, primaryChange(p, name))
		}
	}
	return b.String()
}

// DescribeChange summarizes a change in one short phrase.
func DescribeChange(c core.ModelChange) string {
	switch c.ChangeType {
	case core.ChangeSchema:
		var parts []string
		if len(c.Details.AddedColumns) > 0 {
			parts = append(parts, "+"+strings.Join(c.Details.AddedColumns, ","))
		}
		if len(c.Details.RemovedColumns) > 0 {
			parts = append(parts, "-"+strings.Join(c.Details.RemovedColumns, ","))
		}
		for _, m := range c.Details.ModifiedColumns {
			if m.TypeChange != nil {
				parts = append(parts, fmt.Sprintf("~%s:%s->%s", m.Name, m.TypeChange.From, m.TypeChange.To))
			} else {
				parts = append(parts, "~"+m.Name)
			}
		}
		if len(parts) == 0 {
			return "Schema changes"
		}
		return "Schema: " + strings.Join(parts, ", ")
	case core.ChangeLogic:
		return "Logic: transformation changed"
	case core.ChangeDependency:
		var parts []string
		for _, d := range c.Details.AddedDependencies {
			parts = append(parts, "+"+d)
		}
		for _, d := range c.Details.RemovedDependencies {
			parts = append(parts, "-"+d)
		}
		if len(parts) == 0 {
			return "Dependencies: upstream references changed"
		}
		return "Dependencies: " + strings.Join(parts, ", ")
	case core.ChangeMetadata:
		return "Metadata: model properties changed"
	case core.ChangeDownstreamUpdate:
		return "upstream: " + upstreamCause(c)
	}
	return strings.ToLower(string(c.ChangeType))
}

func upstreamCause(c core.ModelChange) string {
	if len(c.Details.UpstreamCauses) == 0 {
		return "unknown"
	}
	return strings.Join(c.Details.UpstreamCauses, ", ")
}

// primaryChange is the highest ranked change type recorded for a model.
func primaryChange(p *core.ExecutionPlan, model string) core.ChangeType {
	changes := p.ChangesFor(model)
	if len(changes) == 0 {
		return "UNKNOWN"
	}
	best := changes[0].ChangeType
	for _, c := range changes[1:] {
		if c.ChangeType.Rank() < best.Rank() {
			best = c.ChangeType
		}
	}
	return best
}

// Title turns a change type such as SCHEMA_CHANGE into "Schema Change".
func Title(t core.ChangeType) string {
	words := strings.ReplaceAll(strings.ToLower(string(t)), "_", " ")
	return cases.Title(language.English).String(words)
}

// Markdown renders the plan for pull request comments.
func Markdown(p *core.ExecutionPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Plan for `%s`\n\n", p.Environment)
	if !p.HasChanges() {
		b.WriteString("No changes. The environment is up to date.\n")
		return b.String()
	}

	b.WriteString("| New | Deleted | Directly modified | Indirectly modified | Total |\n")
	b.WriteString("|---:|---:|---:|---:|---:|\n")
	s := p.Summary
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d |\n", s.New, s.Deleted, s.DirectlyModified, s.IndirectlyModified, s.Total)

	grouped := make(map[core.ChangeType][]core.ModelChange)
	for _, c := range p.Changes {
		grouped[c.ChangeType] = append(grouped[c.ChangeType], c)
	}
	for _, t := range []core.ChangeType{
		core.ChangeNew, core.ChangeDeleted, core.ChangeSchema, core.ChangeLogic,
		core.ChangeDependency, core.ChangeMetadata, core.ChangeDownstreamUpdate,
	} {
		changes := grouped[t]
		if len(changes) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n\n", Title(t))
		for _, c := range changes {
			if t == core.ChangeNew || t == core.ChangeDeleted {
				fmt.Fprintf(&b, "- `%s`\n", c.ModelName)
				continue
			}
			fmt.Fprintf(&b, "- `%s`: %s\n", c.ModelName, DescribeChange(c))
		}
	}

	if len(p.ExecutionOrder) > 0 {
		b.WriteString("\n### Execution Order\n\n")
		for i, name := range p.ExecutionOrder {
			fmt.Fprintf(&b, "%d. `%s` (%s)\n", i+1, name, primaryChange(p, name))
		}
	}
	return b.String()
}

// Table renders the execution order with each model's changes.
func Table(p *core.ExecutionPlan) string {
	if !p.HasChanges() {
		return fmt.Sprintf("No changes. Environment %s is up to date.\n", p.Environment)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Model", "Change", "Details"})
	for i, name := range p.ExecutionOrder {
		for j, c := range p.ChangesFor(name) {
			step := ""
			if j == 0 {
				step = fmt.Sprint(i + 1)
			}
			t.AppendRow(table.Row{step, name, c.ChangeType, DescribeChange(c)})
		}
	}
	for _, c := range p.Changes {
		if c.ChangeType == core.ChangeDeleted {
			t.AppendRow(table.Row{"-", c.ModelName, c.ChangeType, c.Details.Reason})
		}
	}
	return t.Render() + "\n"
}
