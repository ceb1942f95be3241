package domain

import "encoding/json"

// Engine identifies which backend produced a result.
type Engine string

const (
	EngineLocal  Engine = "local"
	EngineRemote Engine = "remote"
)

// NormalizedType is the engine-independent column type reported to callers.
type NormalizedType string

const (
	TypeNumber  NormalizedType = "number"
	TypeString  NormalizedType = "string"
	TypeBoolean NormalizedType = "boolean"
	TypeDate    NormalizedType = "date"
)

// Fidelity tells whether a column type was declared by the engine or inferred.
type Fidelity string

const (
	FidelityPrecise  Fidelity = "precise"
	FidelityInferred Fidelity = "inferred"
)

// ColumnType describes one result column.
type ColumnType struct {
	Name     string         `json:"name"`
	Type     NormalizedType `json:"type"`
	Fidelity Fidelity       `json:"fidelity"`
}

// Row is one JSON-safe result row keyed by column name.
type Row map[string]any

// Result is a normalized query result. Column types travel with the rows
// but are not part of the serialized form: MarshalJSON emits the row array
// only.
type Result struct {
	Rows []Row

	columns []ColumnType
	engine  Engine
}

// NewResult creates a Result with attached column types.
func NewResult(engine Engine, rows []Row, columns []ColumnType) *Result {
	if rows == nil {
		rows = []Row{}
	}
	return &Result{Rows: rows, columns: columns, engine: engine}
}

// ColumnTypes returns the column descriptors in column order.
func (r *Result) ColumnTypes() []ColumnType {
	return append([]ColumnType(nil), r.columns...)
}

// ColumnType returns the descriptor for a named column.
func (r *Result) ColumnType(name string) (ColumnType, bool) {
	for _, c := range r.columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnType{}, false
}

// Engine reports which backend produced the result.
func (r *Result) Engine() Engine { return r.engine }

// Len returns the number of rows.
func (r *Result) Len() int { return len(r.Rows) }

// MarshalJSON encodes the rows as a plain JSON array.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.Rows)
}
