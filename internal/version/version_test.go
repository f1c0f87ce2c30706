// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package version

import (
	"runtime/debug"
	"testing"

	"github.com/delimakpm/delimabot/internal/testutil"
)

func TestLoadInfo(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		bi          *debug.BuildInfo
		ok          bool
		wantVersion string
		wantCommit  string
	}{
		"no build info": {ok: false, wantVersion: "devel"},
		"devel": {
			bi: &debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "abc123"},
					{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
				},
			},
			ok:          true,
			wantVersion: "devel",
			wantCommit:  "abc123",
		},
		"tagged": {
			bi:          &debug.BuildInfo{Main: debug.Module{Version: "v1.2.3"}},
			ok:          true,
			wantVersion: "v1.2.3",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			i := loadInfo(func() (*debug.BuildInfo, bool) { return tc.bi, tc.ok })
			testutil.AssertEqual(t, i.Version, tc.wantVersion)
			testutil.AssertEqual(t, i.Commit, tc.wantCommit)
		})
	}
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, userAgent(Info{Name: "delimabot", Version: "v1.0.0"}), "delimabot/v1.0.0")
	testutil.AssertEqual(t, userAgent(Info{Name: "delimabot", Version: "devel", Commit: "abc"}), "delimabot/abc")
}

func TestInfoString(t *testing.T) {
	t.Parallel()

	i := Info{
		Name:    "delimabot",
		Version: "v1.0.0",
		Commit:  "abc",
		BuiltAt: "2026-01-02",
		Go:      "go1.24.0",
		OS:      "linux",
		Arch:    "amd64",
	}
	want := "delimabot v1.0.0 (go1.24.0, linux/amd64)\ncommit abc\nbuilt at 2026-01-02\n"
	testutil.AssertEqual(t, i.String(), want)
}
