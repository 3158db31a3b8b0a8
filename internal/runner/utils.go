package runner

import (
	"path"
	"regexp"
	"strings"
)

var (
	versionRegex = regexp.MustCompile(`(?i)\bgame version[:\s]+v?(\d+(?:\.\d+)+)`)
	worldRegex   = regexp.MustCompile(`(?i)\bload(?:ing|ed)? world[:\s]+(\S+)`)
)

// parseVersion extracts the game build from a startup line such as
// "ENGINE       : Game version: 1.2.0.76".
func parseVersion(line string) string {
	m := versionRegex.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return m[1]
}

// parseWorld extracts the map name from "Loading world: worlds/Everon/Everon.ent"
// style lines.
func parseWorld(line string) string {
	m := worldRegex.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	w := m[1]
	if i := strings.Index(w, "}"); i >= 0 {
		w = w[i+1:]
	}
	w = strings.Trim(w, `"',`)
	base := path.Base(w)
	return strings.TrimSuffix(base, path.Ext(base))
}
