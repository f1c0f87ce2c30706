// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio provides atomic file replacement.
package atomicio

import (
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFile replaces the contents of name with data atomically: readers
// observe either the old contents or the new ones, never a partial write.
//
// The data is written to a temporary file in the same directory and then
// renamed over name, so both must reside on the same filesystem.
func WriteFile(name string, data []byte, perm fs.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), name)
}
