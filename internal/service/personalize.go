// internal/service/personalize.go
package service

import (
	"regexp"
	"strings"
	"unicode"
)

const nameToken = "{{name}}"

var displayNamePattern = regexp.MustCompile(`^([^<]+)<.+>$`)

// DisplayName extracts a greeting name from a recipient address.
// "Alice <alice@x.com>" yields "Alice"; a bare "bob@x.com" yields the
// capitalized local part "Bob".
func DisplayName(recipient string) string {
	if m := displayNamePattern.FindStringSubmatch(recipient); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}

	local := recipient
	if at := strings.Index(recipient, "@"); at >= 0 {
		local = recipient[:at]
	}
	local = strings.TrimSpace(local)
	if local == "" {
		return "there"
	}

	r := []rune(local)
	return string(unicode.ToUpper(r[0])) + string(r[1:])
}

// Personalize substitutes every {{name}} token in subject and body
// with the recipient's display name. Pure and idempotent.
func Personalize(subject, body, recipient string) (string, string) {
	name := DisplayName(recipient)
	return strings.ReplaceAll(subject, nameToken, name),
		strings.ReplaceAll(body, nameToken, name)
}
