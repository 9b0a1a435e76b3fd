package auth

import (
	"testing"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "whitespace is trimmed",
			input:    "  test-api-key  ",
			expected: HashKey("test-api-key"),
		},
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", // SHA256 of empty
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashKey(tt.input); got != tt.expected {
				t.Errorf("HashKey() = %v, want %v", got, tt.expected)
			}
		})
	}

	if len(HashKey("test-api-key")) != 64 {
		t.Error("expected a 64-char hex digest")
	}
	if HashKey("key1") == HashKey("key2") {
		t.Error("different keys produced the same hash")
	}
}

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier("s3cret")

	tests := []struct {
		presented string
		want      bool
	}{
		{"s3cret", true},
		{" s3cret ", true},
		{"S3cret", false},
		{"s3cret2", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := v.Verify(tt.presented); got != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.presented, got, tt.want)
		}
	}

	disabled := NewTokenVerifier("  ")
	if disabled.Enabled() {
		t.Error("blank token should disable the verifier")
	}
	if disabled.Verify("") || disabled.Verify("anything") {
		t.Error("a disabled verifier must reject every token")
	}

	var nilVerifier *TokenVerifier
	if nilVerifier.Verify("x") {
		t.Error("nil verifier must reject")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer a b", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		if token != tt.token || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}
