// Package appfs embeds the static files shipped with the binaries.
package appfs

import "embed"

const (
	PlatformMigrationsDir = "migrations/platform"
	SchoolMigrationsDir   = "migrations/school"
	CommonPasswordsFile   = "assets/common-passwords.txt.gz"
)

//go:embed assets migrations all:templates
var FS embed.FS
