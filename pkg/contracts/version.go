// Package contracts holds the types shared between the wrdspanel service
// and its clients.
package contracts

import "fmt"

const (
	// Version is the release of the pipeline and its HTTP API.
	Version = "1.0.0"

	// APIVersion prefixes every API route.
	APIVersion = "v1"
)

// GitCommit is stamped at build time:
//
//	go build -ldflags "-X wrdspanel/pkg/contracts.GitCommit=$(git rev-parse --short HEAD)"
var GitCommit = "unknown"

// VersionString is what `wrdspanel --version` prints.
func VersionString() string {
	if GitCommit == "unknown" || GitCommit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}
