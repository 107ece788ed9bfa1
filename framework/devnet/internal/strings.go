package internal

import (
	"regexp"
)

// maxNameLen keeps directory names derived from test names well below
// filesystem limits once a random suffix is appended.
const maxNameLen = 64

// CondenseName truncates the middle of the given name
// if it is maxNameLen characters or longer.
func CondenseName(name string) string {
	if len(name) < maxNameLen {
		return name
	}
	return name[:30] + "_._" + name[len(name)-30:]
}

var invalidNameCharsRE = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SanitizeName returns name with any character that is awkward in a
// path component replaced with an underscore.
// Subtests will include slashes, and there may be other
// invalid characters too.
func SanitizeName(name string) string {
	return invalidNameCharsRE.ReplaceAllLiteralString(name, "_")
}

// DirName turns a test or chain name into a single path component.
func DirName(name string) string {
	return CondenseName(SanitizeName(name))
}
