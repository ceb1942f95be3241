package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"duckbridge/internal/domain"
)

const (
	outputAuto  = "auto"
	outputTable = "table"
	outputJSON  = "json"
)

func validateOutputFormat(output string) error {
	switch output {
	case "", outputAuto, outputTable, outputJSON:
		return nil
	}
	return fmt.Errorf("unsupported output format %q: use 'auto', 'table' or 'json'", output)
}

// resolveOutputFormat turns "auto" into table on a terminal and JSON
// everywhere else.
func resolveOutputFormat(output string, w io.Writer) string {
	if output == outputTable || output == outputJSON {
		return output
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return outputTable
	}
	return outputJSON
}

// queryOutput is the JSON form of a query result.
type queryOutput struct {
	Engine   domain.Engine       `json:"engine"`
	Columns  []domain.ColumnType `json:"columns"`
	Rows     []domain.Row        `json:"rows"`
	RowCount int                 `json:"row_count"`
}

func renderResult(w io.Writer, format string, res *domain.Result) error {
	if format == outputJSON {
		return printJSON(w, queryOutput{
			Engine:   res.Engine(),
			Columns:  res.ColumnTypes(),
			Rows:     res.Rows,
			RowCount: res.Len(),
		})
	}

	cols := res.ColumnTypes()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c.Name
	}
	t.AppendHeader(header)

	for _, r := range res.Rows {
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[i] = formatValue(r[c.Name])
		}
		t.AppendRow(row)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows, %s engine)\n", res.Len(), res.Engine())
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
