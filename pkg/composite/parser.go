// Package composite reads and writes the composite fields of dataset rows.
//
// Two encodings are in use:
//
//	A04MQ#F01.A057G$F21.A07RV       base term followed by facets
//	origSampId=S1$sampEventId=E1    attribute list
//
// A value may combine both: a base term followed by attributes
// ("RF-00004629-PAR#allele1=ARR$allele2=ARQ").
package composite

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tse-report-engine/internal/domain"
)

const (
	baseSeparator    = "#"
	segmentSeparator = "$"
	attrSeparator    = "="
	facetSeparator   = "."
)

// facet headers look like F01, F21, F33
var facetPattern = regexp.MustCompile(`^(F\d{2})\.(.+)$`)

// Segment is one element after the base term: either a facet (F01.A057G)
// or an attribute (key=value).
type Segment struct {
	Key   string
	Value string
	Facet bool
}

func (s Segment) String() string {
	if s.Facet {
		return s.Key + facetSeparator + s.Value
	}
	return s.Key + attrSeparator + s.Value
}

// Value is a parsed composite field. Segment order is preserved so that
// String reproduces the raw input.
type Value struct {
	BaseTerm string
	Segments []Segment
}

// Get returns the value of the first segment with the given key.
func (v Value) Get(key string) (string, bool) {
	for _, s := range v.Segments {
		if s.Key == key {
			return s.Value, true
		}
	}
	return "", false
}

// String composes the value back to its raw form.
func (v Value) String() string {
	parts := make([]string, len(v.Segments))
	for i, s := range v.Segments {
		parts[i] = s.String()
	}
	tail := strings.Join(parts, segmentSeparator)
	switch {
	case v.BaseTerm == "":
		return tail
	case tail == "":
		return v.BaseTerm
	default:
		return v.BaseTerm + baseSeparator + tail
	}
}

// Parse splits a raw composite field.
func Parse(raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Value{}, nil
	}

	var v Value
	rest := raw
	if base, tail, ok := splitBase(raw); ok {
		if base == "" {
			return Value{}, fmt.Errorf("parsing composite %q: %w", raw,
				domain.NewValidationError("baseTerm", "base term cannot be empty", raw))
		}
		v.BaseTerm, rest = base, tail
	} else if !strings.Contains(raw, attrSeparator) && !facetPattern.MatchString(raw) {
		// a bare code
		v.BaseTerm = raw
		return v, nil
	}

	if rest == "" {
		return v, nil
	}

	for _, part := range strings.Split(rest, segmentSeparator) {
		seg, err := parseSegment(part)
		if err != nil {
			return Value{}, fmt.Errorf("parsing composite %q: %w", raw, err)
		}
		v.Segments = append(v.Segments, seg)
	}
	return v, nil
}

func parseSegment(part string) (Segment, error) {
	if idx := strings.Index(part, attrSeparator); idx > 0 {
		return Segment{Key: part[:idx], Value: part[idx+1:]}, nil
	}
	if m := facetPattern.FindStringSubmatch(part); m != nil {
		return Segment{Key: m[1], Value: m[2], Facet: true}, nil
	}
	return Segment{}, domain.NewValidationError("segment", "expected key=value or facet", part)
}

// splitBase cuts raw at the base separator. A "#" separates the base term
// only when no attribute precedes it and a facet or an attribute follows
// it; anywhere else it is part of a value.
func splitBase(raw string) (base, rest string, ok bool) {
	idx := strings.Index(raw, baseSeparator)
	if idx < 0 {
		return "", raw, false
	}
	if eq := strings.Index(raw, attrSeparator); eq >= 0 && eq < idx {
		return "", raw, false
	}
	first, _, _ := strings.Cut(raw[idx+1:], segmentSeparator)
	if !facetPattern.MatchString(first) && strings.Index(first, attrSeparator) <= 0 {
		return "", raw, false
	}
	return raw[:idx], raw[idx+1:], true
}

// BaseTerm returns the part of a code before the facets or attributes.
func BaseTerm(code string) string {
	if base, _, ok := splitBase(code); ok {
		return base
	}
	return code
}
