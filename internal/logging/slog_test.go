package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWithCommand(t *testing.T) {
	var buf bytes.Buffer
	logger := WithCommand(NewLogger(&buf, FormatJSON, false), "register_site")
	logger.Info("handled")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry[KeyCommand] != "register_site" {
		t.Errorf("command = %v, want register_site", entry[KeyCommand])
	}
}

func TestWithOxdIDAndConnection(t *testing.T) {
	var buf bytes.Buffer
	logger := WithConnection(WithOxdID(NewLogger(&buf, FormatText, false), "abc"), "127.0.0.1:5000")
	logger.Info("handled")

	out := buf.String()
	if !strings.Contains(out, "oxd_id=abc") {
		t.Errorf("missing oxd_id in %q", out)
	}
	if !strings.Contains(out, "remote_addr=127.0.0.1:5000") {
		t.Errorf("missing remote_addr in %q", out)
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, FormatText, false).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug message written without debug mode: %q", buf.String())
	}

	NewLogger(&buf, FormatText, true).Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("debug message missing in debug mode: %q", buf.String())
	}
}

func TestNewLogger_UnknownFormatFallsBackToText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "yaml", false).Info("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestAttributes(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value string
	}{
		{"command", Command("get_rp"), KeyCommand, "get_rp"},
		{"oxd_id", OxdID("id-1"), KeyOxdID, "id-1"},
		{"op_host", OpHost("https://op.example.com"), KeyOpHost, "https://op.example.com"},
		{"remote_addr", RemoteAddr("10.0.0.1:1"), KeyRemoteAddr, "10.0.0.1:1"},
		{"status", Status(StatusSuccess), KeyStatus, StatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.key)
			}
			if tt.attr.Value.String() != tt.value {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.value)
			}
		})
	}
}

func TestErr(t *testing.T) {
	// Test with error
	err := errors.New("test error")
	attr := Err(err)
	if attr.Key != KeyError {
		t.Errorf("Err key = %q, want %q", attr.Key, KeyError)
	}
	if attr.Value.String() != "test error" {
		t.Errorf("Err value = %q, want %q", attr.Value.String(), "test error")
	}

	// Test with nil - should return an empty group that slog will omit
	attr = Err(nil)
	// Empty Group has empty key
	if attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty string (empty group)", attr.Key)
	}
}

func TestHashToken(t *testing.T) {
	if got := HashToken(""); got != "" {
		t.Errorf("HashToken(\"\") = %q, want empty string", got)
	}

	h1 := HashToken("secret-token")
	if len(h1) != 22 { // "token:" + 16 hex chars
		t.Errorf("HashToken length = %d, want 22", len(h1))
	}
	if !strings.HasPrefix(h1, "token:") {
		t.Errorf("HashToken should start with 'token:', got %q", h1)
	}
	if strings.Contains(h1, "secret") {
		t.Error("HashToken leaked token content")
	}
	if h1 != HashToken("secret-token") {
		t.Error("HashToken should be deterministic")
	}
	if h1 == HashToken("other-token") {
		t.Error("different tokens should produce different hashes")
	}
}

func TestTokenHash(t *testing.T) {
	attr := TokenHash("abc")
	if attr.Key != KeyTokenHash {
		t.Errorf("TokenHash key = %q, want %q", attr.Key, KeyTokenHash)
	}
	if attr.Value.String() != HashToken("abc") {
		t.Errorf("TokenHash value = %q", attr.Value.String())
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "<empty>"},
		{"abc123", "[token:6 chars]"},
		{"a_very_long_token_string", "[token:24 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := SanitizeToken(tt.token)
			if result != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, result, tt.expected)
			}
		})
	}
}
