// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package records

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/delimakpm/delimabot/internal/testutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]struct{ in, want string }{
		"trim":     {in: "  ali ", want: "ALI"},
		"collapse": {in: "ahmad \t bin\nali", want: "AHMAD BIN ALI"},
		"empty":    {in: "   ", want: ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			testutil.AssertEqual(t, Normalize(tc.in), tc.want)
		})
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	s := New(
		Record{Name: "Ahmad Bin Ali", Email: "a@x.com", Password: "p1"},
		Record{Name: "Siti Binti Ahmad", Email: "s@x.com", Password: "p2"},
		Record{Name: "Ahmad Bin Ali Akbar", Email: "aa@x.com", Password: "p3"},
	)

	cases := map[string]struct {
		query  string
		want   Record
		wantOK bool
	}{
		"exact": {
			query:  "Ahmad Bin Ali",
			want:   Record{Name: "AHMAD BIN ALI", Email: "a@x.com", Password: "p1"},
			wantOK: true,
		},
		"case and spacing": {
			query:  "  siti   binti ahmad ",
			want:   Record{Name: "SITI BINTI AHMAD", Email: "s@x.com", Password: "p2"},
			wantOK: true,
		},
		"substring returns first in file order": {
			query:  "ahmad",
			want:   Record{Name: "AHMAD BIN ALI", Email: "a@x.com", Password: "p1"},
			wantOK: true,
		},
		"no match":    {query: "zzznomatch"},
		"empty query": {query: ""},
		"blank query": {query: "   "},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, ok := s.Find(tc.query)
			testutil.AssertEqual(t, ok, tc.wantOK)
			testutil.AssertEqual(t, got, tc.want)
		})
	}
}

func TestEmptyStore(t *testing.T) {
	t.Parallel()

	for name, s := range map[string]*Store{"new": New(), "zero": {}, "nil": nil} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			testutil.AssertEqual(t, s.Len(), 0)
			_, ok := s.Find("Ahmad")
			testutil.AssertEqual(t, ok, false)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		file    string
		content string
		wantLen int
		want    map[string]Record
	}{
		"csv with header names": {
			file:    "data.csv",
			content: "Nama,Emel,Kata Laluan\nAhmad Bin Ali,a@x.com,p1\nSiti,s@x.com,p2\n",
			wantLen: 2,
			want:    map[string]Record{"ahmad": {Name: "AHMAD BIN ALI", Email: "a@x.com", Password: "p1"}},
		},
		"reordered columns": {
			file:    "data.csv",
			content: "password,name,email\np1,Ahmad Bin Ali,a@x.com\n",
			wantLen: 1,
			want:    map[string]Record{"ahmad": {Name: "AHMAD BIN ALI", Email: "a@x.com", Password: "p1"}},
		},
		"unknown header falls back to positions": {
			file:    "data.csv",
			content: "A,B,C\nAhmad Bin Ali,a@x.com,p1\n",
			wantLen: 1,
			want:    map[string]Record{"ahmad": {Name: "AHMAD BIN ALI", Email: "a@x.com", Password: "p1"}},
		},
		"tsv": {
			file:    "data.tsv",
			content: "Nama\tID DELIMa\tPassword\nAhmad Bin Ali\ta@x.com\tp1\n",
			wantLen: 1,
			want:    map[string]Record{"ahmad": {Name: "AHMAD BIN ALI", Email: "a@x.com", Password: "p1"}},
		},
		"byte order mark and blank names": {
			file:    "data.csv",
			content: "\ufeffNama,Emel,Password\n,orphan@x.com,p0\nAhmad Bin Ali,a@x.com,p1\n",
			wantLen: 1,
		},
		"short rows": {
			file:    "data.csv",
			content: "Nama,Emel,Password\nAhmad Bin Ali\n",
			wantLen: 1,
			want:    map[string]Record{"ahmad": {Name: "AHMAD BIN ALI"}},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s, err := Load(writeFile(t, tc.file, tc.content))
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, s.Len(), tc.wantLen)
			for q, want := range tc.want {
				got, ok := s.Find(q)
				testutil.AssertEqual(t, ok, true)
				testutil.AssertEqual(t, got, want)
			}
		})
	}
}

func TestLoadFailsSoft(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		path    func(t *testing.T) string
		checkFn func(t *testing.T, err error)
	}{
		"missing file": {
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.csv") },
			checkFn: func(t *testing.T, err error) {
				testutil.AssertErrorIs(t, err, fs.ErrNotExist)
			},
		},
		"empty file": {
			path: func(t *testing.T) string { return writeFile(t, "data.csv", "") },
			checkFn: func(t *testing.T, err error) {
				testutil.AssertErrorIs(t, err, errNoHeader)
			},
		},
		"malformed": {
			path: func(t *testing.T) string {
				return writeFile(t, "data.csv", "Nama,Emel,Password\n\"Ahmad,a@x.com,p1\n")
			},
			checkFn: func(t *testing.T, err error) {
				if err == nil {
					t.Fatal("want parse error")
				}
			},
		},
		"directory": {
			path: func(t *testing.T) string { return t.TempDir() },
			checkFn: func(t *testing.T, err error) {
				if err == nil || errors.Is(err, fs.ErrNotExist) {
					t.Fatalf("want read error, got %v", err)
				}
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s, err := Load(tc.path(t))
			tc.checkFn(t, err)
			if s == nil {
				t.Fatal("Load returned a nil store")
			}
			testutil.AssertEqual(t, s.Len(), 0)
			_, ok := s.Find("Ahmad")
			testutil.AssertEqual(t, ok, false)
		})
	}
}
