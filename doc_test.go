// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package novena

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	const root = "github.com/go-lpc/novena"
	for _, tc := range []struct {
		name string
		info *debug.BuildInfo
		vers string
		sum  string
	}{
		{
			name: "nil",
		},
		{
			name: "no-dep",
			info: &debug.BuildInfo{},
		},
		{
			name: "dep",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{Path: "golang.org/x/sys", Version: "v0.7.0"},
					{Path: root, Version: "v0.1.0", Sum: "h1:xxx"},
				},
			},
			vers: "v0.1.0",
			sum:  "h1:xxx",
		},
		{
			name: "replace-path-version",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.1.0",
						Replace: &debug.Module{Path: "example.org/novena", Version: "v0.2.0", Sum: "h1:yyy"},
					},
				},
			},
			vers: "example.org/novena v0.2.0",
			sum:  "h1:yyy",
		},
		{
			name: "replace-version",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.1.0",
						Replace: &debug.Module{Version: "v0.3.0", Sum: "h1:zzz"},
					},
				},
			},
			vers: "v0.3.0",
			sum:  "h1:zzz",
		},
		{
			name: "replace-local",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.1.0",
						Replace: &debug.Module{Path: "../novena"},
					},
				},
			},
			vers: "../novena",
		},
		{
			name: "replace-empty",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.1.0",
						Replace: &debug.Module{},
					},
				},
			},
			vers: "v0.1.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vers, sum := versionOf(tc.info)
			if vers != tc.vers {
				t.Fatalf("invalid version: got=%q, want=%q", vers, tc.vers)
			}
			if sum != tc.sum {
				t.Fatalf("invalid sum: got=%q, want=%q", sum, tc.sum)
			}
		})
	}
}
