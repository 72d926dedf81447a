package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

var sessionNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9\-]`)

// GenerateID returns a unique session ID using the provided base name.
// The ULID suffix carries a time component plus random entropy, so
// collisions are negligible without a central counter. ulid.Make is safe
// for concurrent callers; sessions may be created from any goroutine.
func GenerateID(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "session"
	}
	base = strings.ToLower(strings.ReplaceAll(base, " ", "-"))
	base = sessionNameSanitizer.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "session"
	}

	return fmt.Sprintf("%s-%s", base, strings.ToLower(ulid.Make().String()))
}

// GenerateChildID returns a short unique id for workers and tabs.
func GenerateChildID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToLower(ulid.Make().String()))
}
