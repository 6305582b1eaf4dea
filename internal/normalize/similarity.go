// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package normalize

import "strings"

// Similarity scores how alike two normalized names are, in [0, 1].
//
// The metric is intentionally not a standard edit distance: it is tuned
// for the truncated-filename failure mode, where one uploader's name is
// a prefix or substring of another's. Do not substitute Levenshtein or
// trigram similarity here.
//
//	equal                      -> 1.0
//	min(len)/max(len) < 0.7    -> 0.0
//	one contains the other     -> min(len)/max(len)
//	otherwise                  -> 0.7*prefix ratio + 0.3*charset Jaccard
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}

	minLen, maxLen := len(a), len(b)
	if minLen > maxLen {
		minLen, maxLen = maxLen, minLen
	}
	ratio := float64(minLen) / float64(maxLen)
	if ratio < 0.7 {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return ratio
	}

	prefix := commonPrefixLen(a, b)
	return 0.7*(float64(prefix)/float64(maxLen)) + 0.3*charsetJaccard(a, b)
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// charsetJaccard computes the Jaccard index of the two strings' byte
// sets. Normalized names only contain [a-z0-9], so bytes suffice.
func charsetJaccard(a, b string) float64 {
	var setA, setB [256]bool
	for i := 0; i < len(a); i++ {
		setA[a[i]] = true
	}
	for i := 0; i < len(b); i++ {
		setB[b[i]] = true
	}
	inter, union := 0, 0
	for c := 0; c < 256; c++ {
		switch {
		case setA[c] && setB[c]:
			inter++
			union++
		case setA[c] || setB[c]:
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
