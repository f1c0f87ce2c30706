// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package delimabot

import (
	"bytes"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var copyrightHeader = regexp.MustCompile(`^// © \d{4} The delimabot Authors\. All rights reserved\.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE\.md file\.
`)

// goFiles returns Go files of the module, skipping directories ignored by
// the go tool.
func goFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	if err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != "." && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".go" {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return files
}

func TestGofmt(t *testing.T) {
	gofmt, err := exec.LookPath("gofmt")
	if err != nil {
		t.Skip("gofmt is not installed")
	}

	var w bytes.Buffer
	c := exec.Command(gofmt, append([]string{"-l"}, goFiles(t)...)...)
	c.Stdout = &w
	c.Stderr = &w
	if err := c.Run(); err != nil {
		t.Fatalf("gofmt failed: %v\n\n%v", err, w.String())
	}
	if diff := w.String(); diff != "" {
		t.Fatalf("run gofmt on these files:\n%v", diff)
	}
}

func TestCopyright(t *testing.T) {
	t.Parallel()

	for _, path := range goFiles(t) {
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !copyrightHeader.Match(b) {
			t.Errorf("%s: missing copyright header", path)
		}
	}
}

func TestLicenseHolder(t *testing.T) {
	t.Parallel()

	b, err := os.ReadFile("LICENSE.md")
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`(?m)^© \d{4} The delimabot Authors$`).Match(b) {
		t.Fatal("LICENSE.md doesn't name the same copyright holder as source file headers")
	}
}
