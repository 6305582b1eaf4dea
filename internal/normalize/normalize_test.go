// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package normalize

import "testing"

func TestName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "release name with resolution and codec",
			input:    "Sample.Keyword.1080p.x264.mp4",
			expected: "samplekeyword",
		},
		{
			name:     "underscore separators and lower resolution",
			input:    "foo_keyword_720p.mp4",
			expected: "fookeyword",
		},
		{
			name:     "dot separators survive as nothing",
			input:    "Foo.Keyword.1080p.mp4",
			expected: "fookeyword",
		},
		{
			name:     "bracketed release and codec tokens",
			input:    "Show.S01E01.[WEB-DL].[x265].mkv",
			expected: "shows01e01",
		},
		{
			name:     "audio codec stripped",
			input:    "Movie 2024 AAC AC3.avi",
			expected: "movie2024",
		},
		{
			name:     "domain suffix before separator",
			input:    "SiteName.com - Great Video.mp4",
			expected: "sitenamegreatvideo",
		},
		{
			name:     "domain suffix at end of stem",
			input:    "clip.example.org.webm",
			expected: "clipexample",
		},
		{
			name:     "4k and uhd tokens",
			input:    "Nature Doc 4K UHD HEVC.mov",
			expected: "naturedoc",
		},
		{
			name:     "non-alphanumerics removed",
			input:    "Tom & Jerry's Best! (1995).mp4",
			expected: "tomjerrysbest1995",
		},
		{
			name:     "unknown extension kept as text",
			input:    "notes.txt",
			expected: "notestxt",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "only stripped tokens leaves empty key",
			input:    "1080p.x264.mp4",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Name(tt.input); got != tt.expected {
				t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestNameIdempotent verifies normalize(normalize(x)) == normalize(x).
func TestNameIdempotent(t *testing.T) {
	inputs := []string{
		"Sample.Keyword.1080p.x264.mp4",
		"foo_keyword_720p.mp4",
		"Show.S01E01.[WEB-DL].[x265].mkv",
		"my.mp4.backup.mkv",
		"a1080pb.mp4",
		"",
	}
	for _, in := range inputs {
		once := Name(in)
		twice := Name(once)
		if once != twice {
			t.Errorf("Name not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

// TestNameCaseInsensitive verifies case does not affect the key.
func TestNameCaseInsensitive(t *testing.T) {
	if Name("FOO.KEYWORD.1080P.MP4") != Name("foo.keyword.1080p.mp4") {
		t.Error("Name should be case-insensitive")
	}
}

func TestKey(t *testing.T) {
	// Normalization disabled falls back to lowercase only, no stripping.
	if got := Key("Foo.Keyword.1080p.mp4", false); got != "foo.keyword.1080p.mp4" {
		t.Errorf("Key(disabled) = %q, want lowercased original", got)
	}
	if got := Key("Foo.Keyword.1080p.mp4", true); got != "fookeyword" {
		t.Errorf("Key(enabled) = %q, want %q", got, "fookeyword")
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{name: "equal", a: "fookeyword", b: "fookeyword", expected: 1.0},
		{name: "both empty never match", a: "", b: "", expected: 0},
		{name: "one empty", a: "foo", b: "", expected: 0},
		{name: "length ratio below threshold", a: "abcdefghij", b: "abc", expected: 0},
		{name: "containment scores length ratio", a: "fookeyword", b: "fookeywo", expected: 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if diff := got - tt.expected; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestSimilarityWeightedPath(t *testing.T) {
	// Same length, shared prefix "abcd", divergent tails with disjoint
	// character sets beyond the prefix.
	a := "abcdxy"
	b := "abcdzw"
	// prefix = 4, maxLen = 6, charsets {a b c d x y} and {a b c d z w}:
	// intersection 4, union 8.
	want := 0.7*(4.0/6.0) + 0.3*(4.0/8.0)
	got := Similarity(a, b)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Similarity(%q, %q) = %v, want %v", a, b, got, want)
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"fookeyword", "fookeywo"},
		{"abcdxy", "abcdzw"},
		{"samplekeyword", "samplekeywor"},
	}
	for _, p := range pairs {
		if Similarity(p[0], p[1]) != Similarity(p[1], p[0]) {
			t.Errorf("Similarity not symmetric for %q, %q", p[0], p[1])
		}
	}
}
