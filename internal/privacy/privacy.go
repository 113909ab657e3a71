// Package privacy removes personal identifiers from values that leave the
// machine: paths in the analysis bundle and in log output.
package privacy

import (
	"path/filepath"
	"regexp"
	"strings"
)

// UserPlaceholder replaces a user profile name.
const UserPlaceholder = "<user>"

// profileDir matches the profile segment of a Windows or POSIX path:
// \Users\<name>, /home/<name>, /Users/<name> and
// \Documents and Settings\<name>.
var profileDir = regexp.MustCompile(`(?i)([\\/](?:users|home|documents and settings)[\\/])([^\\/]+)`)

// ScrubPath replaces the user name in a profile directory with
// UserPlaceholder. Paths outside a profile are returned unchanged.
func ScrubPath(path string) string {
	return profileDir.ReplaceAllStringFunc(path, func(m string) string {
		sub := profileDir.FindStringSubmatch(m)
		if strings.EqualFold(sub[2], "public") || sub[2] == UserPlaceholder {
			return m
		}
		return sub[1] + UserPlaceholder
	})
}

// BaseName returns the final element of a Windows or POSIX path. The file
// name alone never contains a profile directory.
func BaseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return filepath.Base(path)
}
