// Package utils provides small path helpers shared across the CLI.
package utils

import (
	"os"

	homedir "github.com/mitchellh/go-homedir"
)

// ExpandPath expands tilde and all environment variables from the given path.
func ExpandPath(path string) string {
	s, err := homedir.Expand(path)
	if err == nil {
		return os.ExpandEnv(s)
	}
	return os.ExpandEnv(path)
}
