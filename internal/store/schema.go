package store

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ColumnType is the Postgres type a preview column is stored as.
type ColumnType string

const (
	TypeDate  ColumnType = "DATE"
	TypeText  ColumnType = "TEXT"
	TypeFloat ColumnType = "DOUBLE PRECISION"
)

// Column is one stored column of a table.
type Column struct {
	Name string
	Type ColumnType
}

// Table is the stored shape of one preview table.
type Table struct {
	Name    string
	Columns []Column
}

// column returns the named column, if the table has it.
func (t Table) column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// createSQL renders an idempotent CREATE TABLE statement.
func (t Table) createSQL() string {
	defs := make([]string, 0, len(t.Columns)+1)
	defs = append(defs, "id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY")
	for _, c := range t.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), c.Type))
	}
	defs = append(defs, "saved_at TIMESTAMPTZ NOT NULL DEFAULT now()")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		pgx.Identifier{t.Name}.Sanitize(), strings.Join(defs, ",\n\t"))
}

// tables is the stored shape of every catalogue table.
var tables = map[string]Table{
	"valuations": {Name: "valuations", Columns: []Column{
		{"date", TypeDate}, {"asset", TypeText}, {"value", TypeFloat},
	}},
	"risk": {Name: "risk", Columns: []Column{
		{"date", TypeDate}, {"risk_factor", TypeText}, {"exposure", TypeFloat},
	}},
	"pnl_actuals": {Name: "pnl_actuals", Columns: []Column{
		{"date", TypeDate}, {"account", TypeText}, {"profit_loss", TypeFloat},
	}},
	"pnl_kpis": {Name: "pnl_kpis", Columns: []Column{
		{"date", TypeDate}, {"kpi_type", TypeText}, {"kpi_name", TypeText}, {"kpi_value", TypeFloat},
	}},
}

// LookupTable returns the stored shape of a table.
func LookupTable(name string) (Table, bool) {
	t, ok := tables[name]
	return t, ok
}
