// Package buildconfig exposes values stamped in at link time:
//
//	go build -ldflags "-X github.com/Harshitk-cp/reconledger/internal/buildconfig.version=v0.3.0"
package buildconfig

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = ""
)

// Version returns the build version
func Version() string { return version }

// Commit returns the git commit hash
func Commit() string { return commit }

// VersionInfo is served by /health and printed by `reconledger version`.
func VersionInfo() map[string]string {
	info := map[string]string{
		"version": version,
		"commit":  commit,
	}
	if date != "" {
		info["built"] = date
	}
	return info
}

// String returns a one-line version banner for the CLI
func String() string {
	if date == "" {
		return fmt.Sprintf("reconledger %s (%s)", version, commit)
	}
	return fmt.Sprintf("reconledger %s (%s, built %s)", version, commit, date)
}
