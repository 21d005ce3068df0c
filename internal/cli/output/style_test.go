package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStyler_NoColor(t *testing.T) {
	s := NewStyler(true)
	assert.Equal(t, "✓ test", s.Success("test"))
	assert.Equal(t, "✗ failed", s.Error("failed"))
	assert.Equal(t, "ℹ info message", s.Info("info message"))
	assert.Equal(t, "⚠ warning", s.Warn("warning"))
}

func TestStyler_WithColor(t *testing.T) {
	s := NewStyler(false)
	result := s.Success("test")
	assert.Contains(t, result, "✓")
	assert.Contains(t, result, "test")
	assert.Contains(t, result, "\033[")
}

func TestStyler_Status(t *testing.T) {
	assert.Equal(t, "CONNECTED", NewStyler(true).Status("CONNECTED"))

	s := NewStyler(false)
	assert.Equal(t, colorGreen+"CONNECTED"+colorReset, s.Status("CONNECTED"))
	assert.Equal(t, colorYellow+"PENDING_SCAN"+colorReset, s.Status("PENDING_SCAN"))
	assert.Equal(t, colorRed+"ERROR"+colorReset, s.Status("ERROR"))
	assert.Equal(t, colorCyan+"UNKNOWN"+colorReset, s.Status("UNKNOWN"))
}

func TestStyler_Fprint(t *testing.T) {
	var buf bytes.Buffer
	NewStyler(true).FprintError(&buf, "boom")
	assert.Equal(t, "✗ boom\n", buf.String())
}

func TestFormatJSON(t *testing.T) {
	data := map[string]any{
		"id":     "acme",
		"status": "CONNECTED",
	}

	result, err := FormatJSON(data)
	assert.NoError(t, err)
	assert.Contains(t, result, "acme")
	assert.Contains(t, result, "\n")
}

func TestFormatJSON_Error(t *testing.T) {
	_, err := FormatJSON(make(chan int))
	assert.Error(t, err)
}
