package web

import (
	"embed"
)

// staticFiles holds the embedded viewer page and its assets.
//
//go:embed static/*
var staticFiles embed.FS
