// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

//go:build !unix

package filelock

// processAlive can't probe processes here, so holders are only reclaimed
// once stale.
func processAlive(pid int) bool { return pid > 0 }
