package composite

import (
	"fmt"

	"github.com/tse-report-engine/internal/domain"
)

// DefaultFacetColumns maps the facets of the sampled matrix code to the
// record columns they fill.
var DefaultFacetColumns = map[string]map[string]string{
	domain.ColSampMatCode: {
		"F01": domain.ColSource,
		"F02": domain.ColPart,
		"F21": "prod",
		"F33": "legalCategory",
	},
}

// Decomposer turns composite fields into record cells.
type Decomposer struct {
	facets map[string]map[string]string
}

// NewDecomposer creates a decomposer. facets maps a composite column to the
// facet header -> target column table; nil selects DefaultFacetColumns.
func NewDecomposer(facets map[string]map[string]string) *Decomposer {
	if facets == nil {
		facets = DefaultFacetColumns
	}
	return &Decomposer{facets: facets}
}

// Decompose splits raw into cells keyed by column id. Attributes keep their
// key; facets are renamed through the facet table; the base term, when
// present, is stored under col + "BaseTerm".
func (d *Decomposer) Decompose(col, raw string) (domain.Cells, error) {
	out := domain.Cells{}
	v, err := Parse(raw)
	if err != nil {
		return out, fmt.Errorf("decomposing %s: %w", col, err)
	}

	if v.BaseTerm != "" && len(v.Segments) > 0 {
		out[col+"BaseTerm"] = domain.Text(v.BaseTerm)
	}
	for _, s := range v.Segments {
		key := s.Key
		if s.Facet {
			if target, ok := d.facets[col][s.Key]; ok {
				key = target
			}
		}
		out[key] = domain.Text(s.Value)
	}
	return out, nil
}

// BaseTerm returns the base term of a param code.
func (d *Decomposer) BaseTerm(paramCode string) string {
	return BaseTerm(paramCode)
}

// Compose rebuilds a composite field from a base term and ordered segments.
func Compose(baseTerm string, segments ...Segment) string {
	return Value{BaseTerm: baseTerm, Segments: segments}.String()
}

var _ domain.Decomposer = (*Decomposer)(nil)
