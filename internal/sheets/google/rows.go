package google

import (
	"fmt"
	"strings"

	"allowance/internal/sheets"
)

const dateLayout = "2006-01-02"

// rowValues renders a row in sheets.Header order. Amounts are written as
// decimal strings so USER_ENTERED parses them as numbers without float noise.
func rowValues(r sheets.Row) []any {
	return []any{
		r.TransactionID,
		r.Date.Format(dateLayout),
		r.KidName,
		string(r.Type),
		r.Amount.String(),
		r.Description,
		r.BalanceAfter.String(),
	}
}

func headerValues() []any {
	out := make([]any, len(sheets.Header))
	for i, h := range sheets.Header {
		out[i] = h
	}
	return out
}

// findRow returns the zero-based index of the row whose first cell is id, or -1.
func findRow(values [][]any, id string) int {
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return i
		}
	}
	return -1
}

// rowRef is the A1 reference of a zero-based row index.
func rowRef(sheetName string, idx int) string {
	return fmt.Sprintf("%s!A%d:G%d", quoteSheet(sheetName), idx+1, idx+1)
}

// quoteSheet wraps names containing spaces or punctuation in single quotes.
func quoteSheet(name string) string {
	if strings.IndexFunc(name, func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) < 0 {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
