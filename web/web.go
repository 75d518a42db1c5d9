// Package web bundles the search UI served from the gateway's root path.
package web

import "embed"

//go:embed ui_assets
var Assets embed.FS
