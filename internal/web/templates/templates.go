// Package templates embeds the front end's HTML.
package templates

import "embed"

//go:embed base.html pages/*.html partials/*.html
var FS embed.FS
