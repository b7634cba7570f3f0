// Package assets holds the static files of the viewer shell.
package assets

import "embed"

// FS contains viewer.html and the files it references.
//
//go:embed viewer.html viewer.css viewer.js
var FS embed.FS

// Shell is the name of the viewer shell template in FS.
const Shell = "viewer.html"
