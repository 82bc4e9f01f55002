package repository

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tse-report-engine/internal/domain"
)

// table describes how one record kind is stored. Every row keeps the ids
// of all its ancestors so that a whole subtree can be selected or deleted
// by any ancestor id.
type table struct {
	name    string
	parents []domain.Kind
	// record columns mirrored in dedicated SQL columns
	indexed map[string]string
}

var tables = map[domain.Kind]table{
	domain.KindReport: {
		name: "reports",
		indexed: map[string]string{
			domain.ColSenderID:     "sender_id",
			domain.ColVersion:      "version",
			domain.ColStatus:       "status",
			domain.ColAggregatorID: "aggregator_id",
			domain.ColDcCode:       "dc_code",
			domain.ColType:         "type",
		},
	},
	domain.KindSummary: {
		name:    "summarized_info",
		parents: []domain.Kind{domain.KindReport},
		indexed: map[string]string{
			domain.ColType: "type",
		},
	},
	domain.KindCase: {
		name:    "case_reports",
		parents: []domain.Kind{domain.KindReport, domain.KindSummary},
		indexed: map[string]string{
			domain.ColSampleID: "samp_id",
		},
	},
	domain.KindResult: {
		name:    "analytical_results",
		parents: []domain.Kind{domain.KindReport, domain.KindSummary, domain.KindCase},
		indexed: map[string]string{},
	},
}

var parentSQLColumns = map[domain.Kind]string{
	domain.KindReport:  "report_id",
	domain.KindSummary: "summary_id",
	domain.KindCase:    "case_id",
}

func tableFor(kind domain.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("%w: %d", domain.ErrInvalidKind, int(kind))
	}
	return t, nil
}

// hasParent reports whether rows of the table carry the id of parent.
func (t table) hasParent(parent domain.Kind) bool {
	for _, p := range t.parents {
		if p == parent {
			return true
		}
	}
	return false
}

// indexedColumns returns the SQL columns and values of the indexed record
// columns in a stable order.
func (t table) indexedColumns(rec domain.Record) ([]string, []any) {
	cols := make([]string, 0, len(t.indexed))
	vals := make([]any, 0, len(t.indexed))
	for _, col := range sortedKeys(t.indexed) {
		cols = append(cols, t.indexed[col])
		vals = append(vals, rec.Get(col).Value())
	}
	return cols, vals
}

// parentValues returns the ancestor ids of rec in the order of t.parents.
func (t table) parentValues(rec domain.Record) ([]string, []any) {
	cols := make([]string, 0, len(t.parents))
	vals := make([]any, 0, len(t.parents))
	for _, p := range t.parents {
		cols = append(cols, parentSQLColumns[p])
		vals = append(vals, domain.ParentID(rec, p))
	}
	return cols, vals
}

// encodeCells serialises every column but the id.
func encodeCells(rec domain.Record) ([]byte, error) {
	cells := rec.Cells()
	delete(cells, domain.ColID)
	data, err := json.Marshal(cells)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", rec.Kind(), err)
	}
	return data, nil
}

// decodeRecord rebuilds a record from its stored id and data.
func decodeRecord(kind domain.Kind, id int64, data []byte) (domain.Record, error) {
	rec, err := domain.NewRecord(kind)
	if err != nil {
		return nil, err
	}
	var cells domain.Cells
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cells); err != nil {
			return nil, fmt.Errorf("decoding %s %d: %w", kind, id, err)
		}
	}
	for col, c := range cells {
		rec.Set(col, c)
	}
	rec.SetRecordID(id)
	return rec, nil
}

func orderClause(order domain.Order) string {
	if order == domain.OrderDesc {
		return "ORDER BY id DESC"
	}
	return "ORDER BY id ASC"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func now() time.Time {
	return time.Now().UTC()
}
