// Package rules holds the reference table of default analytical results and
// resolves the rule that applies to a case.
package rules

import (
	"strings"

	"github.com/tse-report-engine/internal/domain"
)

// Column headers of the reference table.
const (
	HeaderRecordType   = "recordType"
	HeaderSource       = "source"
	HeaderConfirmatory = "confirmatoryExecuted"
	HeaderSampEvent    = "sampEventAsses"
)

const (
	wildcardNull = "null"
	codeSep      = "$"
)

// Rule is one row of the reference table. Codes maps a test aim to a
// composite code of the form paramBaseTerm[$resultValue].
type Rule struct {
	RecordType           string                    `yaml:"recordType"`
	Source               string                    `yaml:"source"`
	ConfirmatoryExecuted string                    `yaml:"confirmatoryExecuted"`
	SampEventAsses       string                    `yaml:"sampEventAsses"`
	Codes                map[domain.TestAim]string `yaml:"codes"`
}

// Code returns the composite code configured for the aim.
func (r *Rule) Code(aim domain.TestAim) string {
	if r == nil || r.Codes == nil {
		return ""
	}
	return r.Codes[aim]
}

// Matches reports whether the rule applies to the query tuple.
func (r *Rule) Matches(recordType, source string, confirmatoryTested bool, sampEventAsses string) bool {
	return fieldMatches(r.RecordType, recordType) &&
		fieldMatches(r.Source, source) &&
		fieldMatches(r.SampEventAsses, sampEventAsses) &&
		confirmatoryMatches(r.ConfirmatoryExecuted, confirmatoryTested)
}

// fieldMatches treats empty and "null" rule values as wildcards. A concrete
// rule value never matches an empty query value.
func fieldMatches(ruleValue, queryValue string) bool {
	if isWildcard(ruleValue) {
		return true
	}
	if queryValue == "" {
		return false
	}
	return ruleValue == queryValue
}

func isWildcard(v string) bool {
	return v == "" || v == wildcardNull
}

// confirmatoryMatches has no wildcard: a rule that is neither true nor false
// never matches.
func confirmatoryMatches(ruleValue string, tested bool) bool {
	return (isTrue(ruleValue) && tested) || (isFalse(ruleValue) && !tested)
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "1":
		return true
	default:
		return false
	}
}

func isFalse(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "no", "n", "0":
		return true
	default:
		return false
	}
}

// ExtractCode splits the code of the aim into the param base term and the
// optional result value. ok is false when the rule has no code for the aim.
func ExtractCode(r *Rule, aim domain.TestAim) (paramBaseTerm, resultValue string, ok bool) {
	code := r.Code(aim)
	if code == "" {
		return "", "", false
	}
	if idx := strings.Index(code, codeSep); idx >= 0 {
		return code[:idx], code[idx+1:], true
	}
	return code, "", true
}

// Table is the ordered, read-only list of rules. Order is precedence.
type Table []Rule

// Find returns the first matching rule in table order.
func (t Table) Find(recordType, source string, confirmatoryTested bool, sampEventAsses string) (*Rule, bool) {
	for i := range t {
		if t[i].Matches(recordType, source, confirmatoryTested, sampEventAsses) {
			return &t[i], true
		}
	}
	return nil, false
}
