// Package configs provides the embedded configuration template.
//
// The template is embedded at build time with go:embed so it ships inside
// the binary regardless of how loclens is installed. It is written out by
// 'loclens config init' and documents every setting with its default.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// 'loclens config init'.
//
//go:embed config.example.yaml
var ConfigTemplate string
