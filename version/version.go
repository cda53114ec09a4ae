// Package version holds the release identifier, set at link time with
// -ldflags "-X github.com/sci-ndp/ndp-catalog-adapter/version.VERSION=...".
package version

var VERSION = "(devel)"
