// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package predicate decides whether a chat message is a candidate video
// and which configured keywords it matches.
package predicate

import (
	"strings"

	"github.com/tomtom215/topicmirror/internal/chat"
)

// Match returns the subset of matches (original spellings, input order)
// that apply to the message, or nil when the message is not a candidate.
//
// A message qualifies only when its media is a video document (protocol
// video flag or a video attribute) with a known duration of at least
// minDuration seconds. Exclusions beat matches: if any non-empty
// exclusion occurs as a substring of the lowercased caption+filename
// text, nothing matches.
func Match(msg chat.Message, matches, exclusions []string, minDuration int) []string {
	video, ok := msg.Media.(chat.Video)
	if !ok {
		return nil
	}
	if !video.Flagged && !video.HasDuration {
		return nil
	}
	if !video.HasDuration || video.DurationSec < minDuration {
		return nil
	}

	text := strings.ToLower(msg.Caption) + " " + strings.ToLower(video.FileName)

	if containsAny(text, exclusions) {
		return nil
	}

	var matched []string
	for _, m := range matches {
		needle := strings.ToLower(strings.TrimSpace(m))
		if needle == "" {
			continue
		}
		if strings.Contains(text, needle) {
			matched = append(matched, m)
		}
	}
	return matched
}

// ShouldExclude is the exclusion half used by the cleanup sweeper: it
// reports whether the caption+filename text hits any exclusion.
func ShouldExclude(caption, fileName string, exclusions []string) bool {
	text := strings.ToLower(caption) + " " + strings.ToLower(fileName)
	return containsAny(text, exclusions)
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		needle := strings.ToLower(strings.TrimSpace(n))
		if needle == "" {
			continue
		}
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
