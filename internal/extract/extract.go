// Package extract pulls execution details out of notification embeds.
//
// Notification bots are not consistent about field naming ("Username", "User",
// "User ID", "userid", ...), so matching is deliberately lenient: names are
// compared case-insensitively by substring and values are scraped for the first
// run of digits where a number is expected. When the fields don't carry an
// identity, the free-text description is searched as a fallback.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Field is a single name/value pair of a notification payload.
type Field struct {
	Name  string
	Value string
}

// Payload is the platform-neutral shape of a notification embed.
type Payload struct {
	Title       string
	Description string
	Fields      []Field
}

// Result is the best-effort extraction. Empty strings mean "not found".
type Result struct {
	Username       string
	UserID         string
	ExecutionCount *int64 // nil when the payload carries no count
}

// HasIdentity reports whether the payload named a user at all.
// Payloads without an identity are not recorded.
func (r Result) HasIdentity() bool {
	return r.Username != "" || r.UserID != ""
}

var (
	reDigits = regexp.MustCompile(`\d+`)

	reDescUsername = regexp.MustCompile(`(?i)Username\s*[:\-]?\s*([^\n\r]+)`)
	reDescUserID   = regexp.MustCompile(`(?i)UserId\s*[:\-]?\s*(\d+)`)
)

// Extract returns the username, user id and execution count found in p.
//
// Fields are processed in order and later matches overwrite earlier ones.
// Field-derived values always win over description-derived values.
func Extract(p Payload) Result {
	var r Result
	for _, f := range p.Fields {
		name := strings.ToLower(strings.TrimSpace(f.Name))
		value := strings.TrimSpace(f.Value)
		switch {
		case strings.Contains(name, "username") || name == "user":
			r.Username = value
		case isUserIDName(name):
			if d := reDigits.FindString(value); d != "" {
				r.UserID = d
			} else {
				r.UserID = value
			}
		case strings.Contains(name, "execution") && strings.Contains(name, "count"):
			r.ExecutionCount = firstInt(value)
		}
	}

	if p.Description != "" && (r.Username == "" || r.UserID == "") {
		if r.Username == "" {
			if m := reDescUsername.FindStringSubmatch(p.Description); m != nil {
				r.Username = strings.TrimSpace(m[1])
			}
		}
		if r.UserID == "" {
			if m := reDescUserID.FindStringSubmatch(p.Description); m != nil {
				r.UserID = m[1]
			}
		}
	}
	return r
}

func isUserIDName(name string) bool {
	return strings.Contains(name, "userid") ||
		strings.Contains(name, "user id") ||
		strings.Contains(name, "user_id")
}

func firstInt(s string) *int64 {
	d := reDigits.FindString(s)
	if d == "" {
		return nil
	}
	n, err := strconv.ParseInt(d, 10, 64)
	if err != nil {
		// overflow; a count this large is not a count
		return nil
	}
	return &n
}
