package main

import "testing"

func TestTruncate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short stays intact", "hello", 40, "hello"},
		{"exact length stays intact", "abcde", 5, "abcde"},
		{"ascii cut", "abcdefgh", 5, "abcde…"},
		{"multibyte cut keeps whole runes", "héllo wörld, こんにちは", 14, "héllo wörld, こ…"},
		{"emoji cut keeps whole runes", "🎉🎉🎉🎉", 2, "🎉🎉…"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncate(tc.in, tc.n); got != tc.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
			}
		})
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken("short"); got != "****" {
		t.Errorf("maskToken short = %q, want %q", got, "****")
	}
	if got := maskToken("wc_1234567890abcdef"); got != "wc_12345...cdef" {
		t.Errorf("maskToken = %q, want %q", got, "wc_12345...cdef")
	}
}
