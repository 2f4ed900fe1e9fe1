// Package protect flags file paths in sensitive areas. Autonomous
// workers edit code unattended; changes under auth, secrets, schema
// migrations, or infrastructure definitions deserve a human glance, so
// the quality gate surfaces them as warnings on the task.
package protect

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultPatterns are glob patterns for sensitive directories.
var defaultPatterns = []string{
	"**/auth/**",
	"**/security/**",
	"**/migrations/**",
	"**/secrets/**",
	"**/credentials/**",
	"**/certs/**",
	"**/terraform/**",
	"**/helm/**",
	"**/k8s/**",
}

// defaultKeywords are path substrings that mark a file sensitive.
var defaultKeywords = []string{
	"password",
	"secret",
	"credential",
	"private_key",
	"oauth",
	"migration",
}

// defaultExtensions are file types that are sensitive regardless of
// location.
var defaultExtensions = []string{
	".pem",
	".key",
	".env",
	".p12",
	".crt",
	".tfstate",
}

// Detector classifies paths against sensitive patterns, keywords, and
// file types. Immutable after construction, safe for concurrent use.
type Detector struct {
	patterns   []string
	keywords   []string
	extensions []string
}

// NewDetector returns a detector with the default rules plus any extra
// glob patterns.
func NewDetector(extraPatterns ...string) *Detector {
	return &Detector{
		patterns:   append(append([]string{}, defaultPatterns...), extraPatterns...),
		keywords:   defaultKeywords,
		extensions: defaultExtensions,
	}
}

// Check reports whether the path is sensitive and why.
func (d *Detector) Check(path string) (bool, string) {
	norm := filepath.ToSlash(path)
	lower := strings.ToLower(norm)

	for _, p := range d.patterns {
		if ok, _ := doublestar.Match(p, norm); ok {
			return true, "matches sensitive pattern " + p
		}
	}
	for _, kw := range d.keywords {
		if strings.Contains(lower, kw) {
			return true, "path contains " + kw
		}
	}
	ext := strings.ToLower(filepath.Ext(norm))
	for _, e := range d.extensions {
		if ext == e {
			return true, "sensitive file type " + e
		}
	}
	return false, ""
}

// Sensitive returns the subset of paths the detector flags, with the
// reason appended to each entry.
func (d *Detector) Sensitive(paths []string) []string {
	var flagged []string
	for _, p := range paths {
		if ok, reason := d.Check(p); ok {
			flagged = append(flagged, p+" ("+reason+")")
		}
	}
	return flagged
}
