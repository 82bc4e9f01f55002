package domain

import (
	"context"
)

// Order is the sort order of records returned by the store.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Store persists the records of the report tree. Single calls are atomic;
// multi-record sequences are not wrapped in a transaction.
type Store interface {
	// Add inserts the record and assigns its database id.
	Add(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record) error
	Delete(ctx context.Context, rec Record) error
	GetByID(ctx context.Context, kind Kind, id int64) (Record, error)
	// GetByParentID returns the records of kind whose ancestor of kind
	// parent has id parentID. Every record carries all its ancestor ids.
	GetByParentID(ctx context.Context, kind Kind, parent Kind, parentID int64, order Order) ([]Record, error)
	DeleteByParentID(ctx context.Context, kind Kind, parent Kind, parentID int64) error
	GetByStringField(ctx context.Context, kind Kind, field, value string) ([]Record, error)
	GetAll(ctx context.Context, kind Kind) ([]Record, error)
	Close() error
}

// FormulaKind selects which formula of a column is solved.
type FormulaKind string

const (
	// FormulaDefault fills empty columns when a record is initialised.
	FormulaDefault FormulaKind = "default"
	// FormulaLabel recomputes derived columns.
	FormulaLabel FormulaKind = "label"
)

// FormulaService solves named column formulas against a record and the
// parents injected into it.
type FormulaService interface {
	Solve(ctx context.Context, rec Record, col string, kind FormulaKind) (string, error)
	// Initialise fills empty columns with their default formulas.
	Initialise(ctx context.Context, rec Record) error
	// UpdateFormulas recomputes every derived column.
	UpdateFormulas(ctx context.Context, rec Record) error
	// EvalBool evaluates a boolean column predicate (editable, mandatory, visible).
	EvalBool(ctx context.Context, rec Record, expr string) (bool, error)
}

// Column describes one column of a record schema.
type Column struct {
	ID               string `yaml:"id"`
	Editable         bool   `yaml:"editable"`
	EditableFormula  string `yaml:"editable_formula"`
	Mandatory        bool   `yaml:"mandatory"`
	MandatoryFormula string `yaml:"mandatory_formula"`
	Visible          bool   `yaml:"visible"`
	DefaultFormula   string `yaml:"default"`
	LabelFormula     string `yaml:"label"`
}

// Schema lists the columns of one record kind.
type Schema struct {
	Kind    Kind
	Columns []Column
}

// Column returns the column with the given id.
func (s *Schema) Column(id string) (Column, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// SchemaService exposes record schemas and evaluates per-column predicates.
type SchemaService interface {
	GetByKind(kind Kind) (*Schema, error)
	IsEditable(ctx context.Context, rec Record, col Column) (bool, error)
	IsMandatory(ctx context.Context, rec Record, col Column) (bool, error)
}

// Decomposer splits composite fields into their sub-values.
type Decomposer interface {
	Decompose(col, raw string) (Cells, error)
	BaseTerm(paramCode string) string
}

// Operation is the kind of message sent to the collection system.
type Operation string

const (
	OpInsert  Operation = "Insert"
	OpReplace Operation = "Replace"
	OpSubmit  Operation = "Submit"
)

// Gateway is the transport to the central collection system.
type Gateway interface {
	Send(ctx context.Context, report *Report, op Operation) (messageID string, err error)
	GetDataset(ctx context.Context, datasetID string) (*Dataset, error)
	ListDatasets(ctx context.Context, dcCode string) ([]Dataset, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
