package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"queued to failed", StatusQueued, StatusFailed, true},
		{"queued to completed", StatusQueued, StatusCompleted, false},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to queued", StatusProcessing, StatusQueued, false},
		{"completed is terminal", StatusCompleted, StatusProcessing, false},
		{"failed is terminal", StatusFailed, StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestTypeFormatValidation(t *testing.T) {
	assert.True(t, TypeClientRecords.Valid())
	assert.True(t, TypeFullAccount.Valid())
	assert.False(t, Type("payroll").Valid())

	assert.True(t, FormatCSV.Valid())
	assert.True(t, FormatPDF.Valid())
	assert.False(t, Format("xlsx").Valid())
}

func TestRequestSubject(t *testing.T) {
	assert.Equal(t, "user_1", Request{}.Subject("user_1"))
	assert.Equal(t, "user_2", Request{SubjectUserID: "user_2"}.Subject("user_1"))
}
