package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	dErrors "dncproxy/pkg/domain-errors"
)

func ptr(s string) *string { return &s }

func TestParseResult(t *testing.T) {
	for _, v := range []string{"ok", "not_found", "error", "mautic_unreachable"} {
		r, err := ParseResult(v)
		assert.NoError(t, err)
		assert.Equal(t, Result(v), r)
	}
	_, err := ParseResult("OK")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestActionRecordValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		record  ActionRecord
		wantErr bool
	}{
		{"ok with contact", ActionRecord{Timestamp: now, Result: ResultOK, ContactID: ptr("42")}, false},
		{"ok without contact", ActionRecord{Timestamp: now, Result: ResultOK}, true},
		{"not_found with contact", ActionRecord{Timestamp: now, Result: ResultNotFound, ContactID: ptr("42")}, true},
		{"error with detail", ActionRecord{Timestamp: now, Result: ResultError, ErrorDetail: ptr("HTTP 500")}, false},
		{"unreachable with detail", ActionRecord{Timestamp: now, Result: ResultMauticUnreachable, ErrorDetail: ptr("x")}, true},
		{"missing timestamp", ActionRecord{Result: ResultNotFound}, true},
		{"unknown result", ActionRecord{Timestamp: now, Result: "maybe"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPageValidate(t *testing.T) {
	assert.NoError(t, Page{Limit: 1}.Validate())
	assert.NoError(t, Page{Limit: 500, Offset: 10}.Validate())
	assert.Error(t, Page{Limit: 0}.Validate())
	assert.Error(t, Page{Limit: 501}.Validate())
	assert.Error(t, Page{Limit: 50, Offset: -1}.Validate())
}
