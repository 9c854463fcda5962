package model

// Record is the normalized, fixed-shape representation of one message.
type Record struct {
	Sender    string
	Subject   string
	Timestamp string
	Body      string
}

// Row converts the record into the column order persisted in the table.
func (r Record) Row() Row {
	return Row{r.Sender, r.Subject, r.Timestamp, r.Body}
}

// Columns is the fixed width of every row in the table.
const Columns = 4

// Row is an ordered tuple of cells: sender, subject, timestamp, body.
type Row []string

// HeaderRow holds the literal labels kept in row 1 of the table.
var HeaderRow = Row{"From", "Subject", "Date", "Content"}

// Padded returns the row widened (or truncated) to exactly Columns cells.
// Spreadsheet providers drop trailing empty cells, so rows read back may be
// shorter than they were written.
func (r Row) Padded() Row {
	out := make(Row, Columns)
	copy(out, r)
	return out
}

// IsHeader reports whether the row is the header sentinel.
func (r Row) IsHeader() bool {
	p := r.Padded()
	for i := range HeaderRow {
		if p[i] != HeaderRow[i] {
			return false
		}
	}
	return true
}
