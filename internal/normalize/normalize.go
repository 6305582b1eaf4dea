// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package normalize canonicalizes video filenames into dedup comparison
// keys and scores near-name similarity between two keys.
package normalize

import (
	"regexp"
	"strings"
)

// The strip passes run in a fixed order; each regexp corresponds to one
// class of release-name noise.
var (
	// trailing container extension
	extRe = regexp.MustCompile(`\.(mp4|mkv|avi|mov|wmv|flv|webm)$`)

	// resolution tokens: 720p/1080p/2160p, 2k/4k/8k, uhd/fhd/hd/sd,
	// optionally wrapped in brackets
	resolutionRe = regexp.MustCompile(`[\[(]?\b(\d{3,4}p|\d+k|uhd|fhd|hd|sd)\b[\])]?`)

	// video codec and audio codec tokens, optionally bracketed
	codecRe = regexp.MustCompile(`[\[(]?\b(x264|x265|hevc|h264|h265|avc|av1|aac|ac3|dts|mp3|flac)\b[\])]?`)

	// source-release tags, only stripped when bracketed
	releaseRe = regexp.MustCompile(`[\[(](rss|web-dl|hdtv|bluray|brrip|webrip)[\])]`)

	// site/domain suffixes followed by a separator or end of string
	domainRe = regexp.MustCompile(`\.(xxx|com|net|org)([ _\-.]|$)`)

	// separator runs
	sepRe = regexp.MustCompile(`[ _\-.]+`)

	// everything outside the comparison alphabet
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9 ]`)
)

// Name canonicalizes a filename into a lowercase comparison key:
// extension, resolution, codec, release and domain tokens are stripped,
// separators collapsed, and all remaining non-alphanumerics removed.
// The result is not reversible and may be empty; callers must treat an
// empty key as matching nothing, including other empty keys.
func Name(fileName string) string {
	s := strings.ToLower(fileName)
	s = extRe.ReplaceAllString(s, "")
	s = resolutionRe.ReplaceAllString(s, " ")
	s = codecRe.ReplaceAllString(s, " ")
	s = releaseRe.ReplaceAllString(s, " ")
	s = domainRe.ReplaceAllString(s, "$2")
	s = sepRe.ReplaceAllString(s, " ")
	s = nonAlnumRe.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, " ", "")
}

// Key derives the dedup key for a filename under the given policy.
// With normalization disabled the key is the lowercased filename with
// no token stripping.
func Key(fileName string, normalizeEnabled bool) string {
	if !normalizeEnabled {
		return strings.ToLower(fileName)
	}
	return Name(fileName)
}
