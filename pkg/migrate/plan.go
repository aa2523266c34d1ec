package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Plan is an ordered list of steps run in one transaction
type Plan struct {
	Steps []Step
	// Suggestions are possible renames offered in dry runs, never applied
	Suggestions []Suggestion
}

// Suggestion is an added column that may be a rename of a removed one
type Suggestion struct {
	Table    string
	From, To string
}

// Empty reports whether the plan changes nothing
func (p *Plan) Empty() bool {
	return len(p.Steps) == 0
}

// SQL renders the plan as a single transaction preceded by rename suggestions
func (p *Plan) SQL() string {
	var b strings.Builder

	for _, s := range p.Suggestions {
		fmt.Fprintf(&b, "-- rename? %s: %s -> %s\n", quote(s.Table), quote(s.From), quote(s.To))
	}

	if p.Empty() {
		return b.String()
	}

	if b.Len() > 0 {
		b.WriteString("\n")
	}

	b.WriteString("BEGIN;\n\n")

	for _, step := range p.Steps {
		b.WriteString(step.SQL())
		b.WriteString("\n\n")
	}

	b.WriteString("COMMIT;\n")

	return b.String()
}

// Renames maps old table names to column renames. The empty key renames the
// table itself; a "<text>@<lang>" key moves that language of a text column
// to the named column.
type Renames map[string]map[string]string

// LoadRenames reads a json rename map
func LoadRenames(path string) (Renames, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Operator-provided rename file
	if err != nil {
		return nil, fmt.Errorf("failed to read rename map: %w", err)
	}

	var renames Renames
	if err := json.Unmarshal(data, &renames); err != nil {
		return nil, fmt.Errorf("failed to parse rename map %s: %w", path, err)
	}

	return renames, nil
}
