// Package version reports the build version of the companion.
package version

import "runtime/debug"

// Version is stamped by the release build:
//
//	go build -ldflags "-X github.com/graaaaa/worldlog-companion/internal/version.Version=0.1.0"
var Version = "dev"

// String returns Version, or the module version recorded by `go install`
// when the binary was not stamped.
func String() string {
	if Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return Version
}
