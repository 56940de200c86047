// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeOutput(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		mustDrop string
	}{
		{"token: abc123", "token: [REDACTED]", "abc123"},
		{"PASSWORD=hunter2 user=bob", "PASSWORD=[REDACTED] user=bob", "hunter2"},
		{"api_key = 'k-998'", "api_key = [REDACTED]", "k-998"},
		{`db_password: "two words"`, "db_password: [REDACTED]", "two words"},
		{"Session key:xyz, next", "Session key:[REDACTED], next", "xyz"},
		{"client_secret=zzz", "client_secret=[REDACTED]", "zzz"},
	}
	for _, c := range cases {
		got := SanitizeOutput(c.in)
		if got != c.want {
			t.Errorf("SanitizeOutput(%q) = %q, want %q", c.in, got, c.want)
		}
		if strings.Contains(got, c.mustDrop) {
			t.Errorf("value %q leaked in %q", c.mustDrop, got)
		}
	}
}

func TestSanitizeOutput_LeavesOrdinaryTextAlone(t *testing.T) {
	in := "● nginx.service - A high performance web server\n   Active: active (running)\nkeyboard layout us"
	if got := SanitizeOutput(in); got != in {
		t.Fatalf("unexpected change:\n%s", got)
	}
	if SanitizeOutput("") != "" {
		t.Fatalf("empty input must stay empty")
	}
}

func TestSanitizeOutput_Multiline(t *testing.T) {
	in := "line1\ntoken=aaa\nline3 password: bbb\n"
	got := SanitizeOutput(in)
	if strings.Contains(got, "aaa") || strings.Contains(got, "bbb") {
		t.Fatalf("secrets leaked: %q", got)
	}
	if !strings.HasPrefix(got, "line1\n") || !strings.HasSuffix(got, "\n") {
		t.Fatalf("surrounding text altered: %q", got)
	}
}

func TestClip(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"日本", 5, "日"},
		{"日本", 6, "日本"},
		{"x", 0, ""},
	}
	for _, c := range cases {
		got := Clip(c.in, c.max)
		if got != c.want {
			t.Errorf("Clip(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Clip(%q, %d) split a rune", c.in, c.max)
		}
	}
}
