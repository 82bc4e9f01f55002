// Package formula solves the column formulas of report records and exposes
// their column schemas.
package formula

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tse-report-engine/internal/domain"
)

//go:embed definitions.yaml
var defaultDefinitionsYAML []byte

// Definitions holds the column schemas of every record kind and the species
// catalogue used to type summarized information.
type Definitions struct {
	Species map[string]string          `yaml:"species"`
	Schemas map[string][]domain.Column `yaml:"schemas"`
}

// DefaultDefinitions returns the built-in definitions.
func DefaultDefinitions() (*Definitions, error) {
	return ParseDefinitions(bytes.NewReader(defaultDefinitionsYAML))
}

// LoadDefinitions reads definitions from path; an empty path selects the
// built-in definitions.
func LoadDefinitions(path string) (*Definitions, error) {
	if path == "" {
		return DefaultDefinitions()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening formula definitions: %w", err)
	}
	defer f.Close()
	return ParseDefinitions(f)
}

// ParseDefinitions decodes a definitions document.
func ParseDefinitions(r io.Reader) (*Definitions, error) {
	var defs Definitions
	if err := yaml.NewDecoder(r).Decode(&defs); err != nil {
		return nil, fmt.Errorf("decoding formula definitions: %w", err)
	}
	for name := range defs.Schemas {
		if _, err := domain.ParseKind(name); err != nil {
			return nil, fmt.Errorf("decoding formula definitions: %w", err)
		}
	}
	return &defs, nil
}

// Schema returns the column schema of a kind.
func (d *Definitions) Schema(kind domain.Kind) *domain.Schema {
	return &domain.Schema{Kind: kind, Columns: d.Schemas[kind.String()]}
}

// TypeBySpecies maps a species code to the summarized information type. A
// composite catalogue entry keeps only its first part. Unknown species yield "".
func (d *Definitions) TypeBySpecies(species string) domain.SummaryType {
	t, ok := d.Species[species]
	if !ok {
		return ""
	}
	t, _, _ = strings.Cut(t, "$")
	return domain.SummaryType(t)
}
