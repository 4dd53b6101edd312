// Package version holds build and wire-protocol version constants.
package version

// Version is the application version, overridden at build time via
// -ldflags "-X github.com/pushpals/pushpals/pkg/version.Version=...".
var Version = "dev"

// ProtocolVersion is the event envelope protocol version. Constant across a
// store's lifetime; every persisted envelope carries it.
const ProtocolVersion = "0.1.0"
