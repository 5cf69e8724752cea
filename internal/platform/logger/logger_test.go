package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestEmailAttributesAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, slog.LevelInfo)

	log.Info("unsubscribe", "email", "john.doe@example.com")

	entry := decode(t, &buf)
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.NotContains(t, buf.String(), "john.doe")
}

func TestEmbeddedEmailsAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, slog.LevelInfo)

	log.Error("upstream failed", "error", errors.New("contact john.doe@example.com rejected"), "detail", "see john.doe@example.com")

	entry := decode(t, &buf)
	assert.Equal(t, "contact jo***@example.com rejected", entry["error"])
	assert.Equal(t, "see jo***@example.com", entry["detail"])
}

func TestLevelIsHonoured(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, slog.LevelWarn)

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.NotZero(t, buf.Len())
}
