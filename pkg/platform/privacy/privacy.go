// Package privacy holds helpers that keep personal data out of logs.
package privacy

import (
	"net"
	"regexp"
	"strings"
)

// emailPattern also matches internationalized addresses. Quotes and brackets
// end a match so JSON and angle-bracket framing survive redaction.
var emailPattern = regexp.MustCompile(`[^\s@"'<>()\[\]{},;:]+@[^\s@"'<>()\[\]{},;:]+\.[^\s@"'<>()\[\]{},;:.]{2,}`)

// RedactEmail keeps the first two characters of the local part and the domain.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := []rune(parts[0])
	if len(name) > 2 {
		return string(name[:2]) + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactEmailsIn replaces every email address embedded in s.
func RedactEmailsIn(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}
	return emailPattern.ReplaceAllStringFunc(s, RedactEmail)
}

// AnonymizeIP zeroes the host part of an address: the last octet for IPv4 and
// the last 80 bits for IPv6. Unparsable input is returned as "invalid".
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "invalid"
	}
	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}
	masked := parsed.Mask(net.CIDRMask(48, 128))
	return masked.String()
}
