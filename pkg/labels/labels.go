// Package labels reads the code-to-name table that gives region labels a
// human readable display text.
package labels

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Default header names of the code and display-name columns
const (
	DefaultCodeColumn = "料理コード"
	DefaultNameColumn = "お客様向け名称"
)

// MaxHotkeys is the number of entries reachable with the digit keys 1-9
const MaxHotkeys = 9

var (
	ErrEmptyTable     = errors.New("label table is empty")
	ErrMissingColumns = errors.New("label table header is missing a required column")
	ErrNoEntries      = errors.New("label table has no usable rows")
)

// Entry is one label code and the text shown for it
type Entry struct {
	Code string
	Name string
}

// Duplicate records a repeated code whose later name was ignored
type Duplicate struct {
	Code    string
	Kept    string
	Ignored string
	Line    int
}

func (d Duplicate) String() string {
	return fmt.Sprintf("duplicate code %q on line %d: keeping %q, ignoring %q", d.Code, d.Line, d.Kept, d.Ignored)
}

// Table is an ordered, deduplicated label table
type Table struct {
	entries    []Entry
	byCode     map[string]string
	duplicates []Duplicate
}

// Columns names the header cells to read codes and names from
type Columns struct {
	Code string
	Name string
}

// DefaultColumns returns the default header names
func DefaultColumns() Columns {
	return Columns{Code: DefaultCodeColumn, Name: DefaultNameColumn}
}

// LoadFile reads a label table from a CSV file
func LoadFile(path string, cols Columns) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label table: %w", err)
	}
	defer f.Close()

	t, err := Parse(f, cols)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return t, nil
}

// Parse reads a CSV label table. Header cells are trimmed before lookup.
// Rows too short to hold both columns and rows with a blank code are
// skipped. A repeated code keeps its first name; later ones are recorded in
// Duplicates when they differ. An empty name falls back to the code.
func Parse(r io.Reader, cols Columns) (*Table, error) {
	if cols.Code == "" {
		cols.Code = DefaultCodeColumn
	}
	if cols.Name == "" {
		cols.Name = DefaultNameColumn
	}

	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte("\xef\xbb\xbf")) {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	codeIdx, nameIdx := -1, -1
	for i, cell := range header {
		switch strings.TrimSpace(cell) {
		case cols.Code:
			if codeIdx < 0 {
				codeIdx = i
			}
		case cols.Name:
			if nameIdx < 0 {
				nameIdx = i
			}
		}
	}
	if codeIdx < 0 || nameIdx < 0 {
		return nil, fmt.Errorf("%w: want %q and %q", ErrMissingColumns, cols.Code, cols.Name)
	}
	width := max(codeIdx, nameIdx)

	t := &Table{byCode: make(map[string]string)}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if len(row) <= width {
			continue
		}
		code := strings.TrimSpace(row[codeIdx])
		if code == "" {
			continue
		}
		name := strings.TrimSpace(row[nameIdx])
		if name == "" {
			name = code
		}
		if kept, ok := t.byCode[code]; ok {
			if kept != name {
				line, _ := cr.FieldPos(codeIdx)
				t.duplicates = append(t.duplicates, Duplicate{Code: code, Kept: kept, Ignored: name, Line: line})
			}
			continue
		}
		t.byCode[code] = name
		t.entries = append(t.entries, Entry{Code: code, Name: name})
	}

	if len(t.entries) == 0 {
		return t, ErrNoEntries
	}
	return t, nil
}

// Len returns the number of entries
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns the entries in file order
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	return append([]Entry(nil), t.entries...)
}

// Duplicates returns the ignored repeated codes
func (t *Table) Duplicates() []Duplicate {
	if t == nil {
		return nil
	}
	return append([]Duplicate(nil), t.duplicates...)
}

// Resolve returns the display name for a code, or the code itself when it
// is unknown. It matches annotation.LabelResolver.
func (t *Table) Resolve(code string) string {
	if t == nil {
		return code
	}
	if name, ok := t.byCode[code]; ok {
		return name
	}
	return code
}

// At returns the i-th entry (zero based)
func (t *Table) At(i int) (Entry, bool) {
	if t == nil || i < 0 || i >= len(t.entries) {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Hotkey returns the entry bound to digit key n (1-9)
func (t *Table) Hotkey(n int) (Entry, bool) {
	if n < 1 || n > MaxHotkeys {
		return Entry{}, false
	}
	return t.At(n - 1)
}

// FormatListItem renders an entry for a picker list
func FormatListItem(e Entry) string {
	if e.Name == "" || e.Name == e.Code {
		return e.Code
	}
	return fmt.Sprintf("%s (%s)", e.Name, e.Code)
}
