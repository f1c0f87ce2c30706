// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package records loads student account records from a spreadsheet export
// and looks them up by name.
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Record is a student account.
type Record struct {
	Name     string
	Email    string
	Password string
}

// Store is an immutable, ordered set of records. The zero value is an empty
// store. Methods of Store are safe for concurrent use.
type Store struct {
	records []Record
}

// New returns a Store holding records, in order. Names are normalized.
func New(records ...Record) *Store {
	s := &Store{records: make([]Record, 0, len(records))}
	for _, r := range records {
		r.Name = Normalize(r.Name)
		if r.Name == "" {
			continue
		}
		s.records = append(s.records, r)
	}
	return s
}

// Len returns the number of records.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Find returns the first record whose name contains query after both are
// normalized.
func (s *Store) Find(query string) (Record, bool) {
	query = Normalize(query)
	if query == "" || s.Len() == 0 {
		return Record{}, false
	}
	for _, r := range s.records {
		if strings.Contains(r.Name, query) {
			return r, true
		}
	}
	return Record{}, false
}

// Normalize trims s, collapses runs of whitespace into single spaces and
// upper-cases it.
func Normalize(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

var errNoHeader = errors.New("file has no header row")

// Column names recognized in the header row, case-insensitively.
var (
	nameColumns     = []string{"nama", "name", "nama murid", "nama penuh"}
	emailColumns    = []string{"email", "emel", "id delima"}
	passwordColumns = []string{"password", "kata laluan", "katalaluan", "secret"}
)

// Load reads records from a CSV file, or a TSV file if path ends with
// ".tsv". The first row is a header naming the columns; if a column isn't
// recognized, the name, email and password are taken from the first three
// columns.
//
// Load never returns nil. On error, it returns an empty store along with the
// error, so callers can log it and keep going.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return New(), err
	}
	defer f.Close()

	comma := ','
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		comma = '\t'
	}
	s, err := read(f, comma)
	if err != nil {
		return New(), fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func read(r io.Reader, comma rune) (*Store, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errNoHeader
	}
	if err != nil {
		return nil, err
	}
	nameCol, emailCol, passCol := columns(header)

	var recs []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, Record{
			Name:     field(row, nameCol),
			Email:    field(row, emailCol),
			Password: field(row, passCol),
		})
	}
	return New(recs...), nil
}

func columns(header []string) (name, email, password int) {
	name, email, password = 0, 1, 2
	found := func(candidates []string) int {
		for i, h := range header {
			h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
			for _, c := range candidates {
				if h == c {
					return i
				}
			}
		}
		return -1
	}
	if i := found(nameColumns); i >= 0 {
		name = i
	}
	if i := found(emailColumns); i >= 0 {
		email = i
	}
	if i := found(passwordColumns); i >= 0 {
		password = i
	}
	return name, email, password
}

func field(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}
