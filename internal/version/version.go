// Package version carries build identification used in log output and
// the User-Agent header of outbound requests.
package version

// Version is overridden at build time via
// -ldflags "-X github.com/tomasv/fedipost/internal/version.Version=...".
var Version = "1.4.0-dev"

// UserAgent identifies the bot to remote servers.
func UserAgent() string {
	return "fedipost/" + Version + " (+https://github.com/tomasv/fedipost)"
}
