package privacy

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
	assert.Equal(t, "jö***@exämple.de", RedactEmail("jörg.müller@exämple.de"))
	assert.Equal(t, "üö***@example.com", RedactEmail("üöäx@example.com"))
	assert.True(t, utf8.ValidString(RedactEmail("ééé@example.com")))
}

func TestRedactEmailsIn(t *testing.T) {
	got := RedactEmailsIn("contact john.doe@example.com rejected")
	assert.Equal(t, "contact jo***@example.com rejected", got)
	assert.Equal(t, "no address here", RedactEmailsIn("no address here"))

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"internationalized", "lookup for jörg.müller@exämple.de failed", "lookup for jö***@exämple.de failed"},
		{"json framing kept", `{"email":"john.doe@example.com"}`, `{"email":"jo***@example.com"}`},
		{"angle brackets kept", "To: <john.doe@example.com>", "To: <jo***@example.com>"},
		{"sentence end", "sent to john.doe@example.com.", "sent to jo***@example.com."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactEmailsIn(tt.in))
		})
	}
}

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.42", "203.0.113.0"},
		{"2001:db8:abcd:12:1:2:3:4", "2001:db8:abcd::"},
		{"garbage", "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, AnonymizeIP(tt.in))
		})
	}
}
