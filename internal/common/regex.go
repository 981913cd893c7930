package common

import "regexp"

// CompileInsensitive compiles a user-authored pattern so that it matches
// without regard to case.
func CompileInsensitive(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
