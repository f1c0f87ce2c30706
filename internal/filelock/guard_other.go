// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

//go:build !darwin && !dragonfly && !freebsd && !linux && !netbsd && !openbsd && !windows

package filelock

import (
	"os"
	"sync"
)

// Without file locking only callers within this process are serialized.
var guardMu sync.Mutex

func lockFile(*os.File) error {
	guardMu.Lock()
	return nil
}

func unlockFile(*os.File) error {
	guardMu.Unlock()
	return nil
}
