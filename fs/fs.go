// Package appfs embeds the files shipped with the binaries: SQL migrations, email templates and the
// common passwords list.
package appfs

import "embed"

//go:embed migrations assets
var FS embed.FS
