// Package integration runs the HTTP API against catalog backends served by
// ckanmock, so that every request crosses the real action API client.
//
// `go test` flags supported:
//
//   -debug
//
//    Log at debug level.
//
// Example: go test -v ./integration/... -debug
//
package integration
