package client

import "regexp"

// projectIDRegexp matches the token following "projects/" when it is either a
// project UUID or a public project code such as APSQ-1234ABCD.
var projectIDRegexp = regexp.MustCompile(
	`(?i)projects/([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}|APSQ-[0-9a-f]{8})(?:/|$|\?)`,
)

// ExtractProjectID returns the project identifier addressed by path, or ""
// when the path does not address a single project.
func ExtractProjectID(path string) string {
	m := projectIDRegexp.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}
