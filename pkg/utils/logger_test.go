package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestMaskSensitiveString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "abc", want: "***"},
		{in: "12345678", want: "********"},
		{in: "AIzaSyD-secret-key-1234", want: "AIza***************1234"},
	}
	for _, tt := range tests {
		if got := MaskSensitiveString(tt.in); got != tt.want {
			t.Fatalf("MaskSensitiveString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInitLoggerWith_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerWith(&buf, "debug", "json")
	t.Cleanup(InitLogger)

	GetLogger().Debug("hello", "k", "v")
	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestInitLoggerWith_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerWith(&buf, "warn", "text")
	t.Cleanup(InitLogger)

	GetLogger().Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}
}
