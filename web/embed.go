// Package web embeds the dashboard shell served at the site root.
package web

import "embed"

// Static embeds static assets. index.html lives at the top of the tree.
//
//go:embed static
var Static embed.FS
