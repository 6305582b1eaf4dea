// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package dedup decides whether a candidate video is already present in
// a destination topic, under a configurable multi-criterion policy.
package dedup

import (
	"context"
	"math"
	"strings"

	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/metrics"
	"github.com/tomtom215/topicmirror/internal/normalize"
	"github.com/tomtom215/topicmirror/internal/store"
)

// nearNameThreshold is the minimum similarity score for the near-name
// path to consider a stored row at all.
const nearNameThreshold = 0.85

// Policy holds the duplicate-detection switches and tolerances.
type Policy struct {
	CheckDuration        bool
	DurationToleranceSec int

	CheckFileSize        bool
	FileSizeTolerancePct float64

	CheckResolution        bool
	ResolutionTolerancePct float64

	CheckMimeType bool

	// NormalizeFilenames controls key derivation: when false the dedup
	// key is the lowercased filename with no token stripping.
	NormalizeFilenames bool
}

// DefaultPolicy returns the stock tolerances with all metadata checks
// disabled and filename normalization on.
func DefaultPolicy() Policy {
	return Policy{
		DurationToleranceSec:   30,
		FileSizeTolerancePct:   5,
		ResolutionTolerancePct: 10,
		NormalizeFilenames:     true,
	}
}

// AnyCheckEnabled reports whether at least one metadata check is on.
func (p Policy) AnyCheckEnabled() bool {
	return p.CheckDuration || p.CheckFileSize || p.CheckResolution || p.CheckMimeType
}

// Candidate is the incoming video's comparable metadata. Optional fields
// use pointers; an enabled check with a nil side always fails.
type Candidate struct {
	FileName       string
	NormalizedName string
	DurationSec    *int
	SizeMB         *float64
	Width          *int
	Height         *int
	MimeType       *string
}

// Oracle evaluates candidates against the store's per-topic rows.
type Oracle struct {
	db     *store.DB
	policy Policy
}

// NewOracle creates an oracle over the given store with the given policy.
func NewOracle(db *store.DB, policy Policy) *Oracle {
	return &Oracle{db: db, policy: policy}
}

// Policy returns the oracle's policy.
func (o *Oracle) Policy() Policy {
	return o.policy
}

// FindSimilar returns the first stored row the policy considers a
// duplicate of the candidate in the topic, or nil. Rows are evaluated in
// insertion order, so the verdict is deterministic.
func (o *Oracle) FindSimilar(ctx context.Context, cand *Candidate, topicName string) (*store.VideoRecord, error) {
	matches, err := o.find(ctx, cand, topicName, true)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

// FindAllSimilar returns every stored row the policy considers a
// duplicate of the candidate in the topic, in insertion order.
func (o *Oracle) FindAllSimilar(ctx context.Context, cand *Candidate, topicName string) ([]*store.VideoRecord, error) {
	return o.find(ctx, cand, topicName, false)
}

// find runs the three-path policy. The paths are strictly ordered:
// exact name, then near name, then metadata-only fallback. The fallback
// only runs when the first two paths matched nothing.
func (o *Oracle) find(ctx context.Context, cand *Candidate, topicName string, firstOnly bool) ([]*store.VideoRecord, error) {
	rows, err := o.db.VideosInTopic(ctx, topicName)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var matches []*store.VideoRecord
	seen := make(map[int64]bool)

	accept := func(rec *store.VideoRecord, path string) {
		if seen[rec.ID] {
			return
		}
		seen[rec.ID] = true
		matches = append(matches, rec)
		metrics.DedupVerdicts.WithLabelValues(path).Inc()
		logging.Debug().
			Str("path", path).
			Str("candidate", cand.NormalizedName).
			Str("stored", rec.NormalizedName).
			Str("topic", topicName).
			Msg("Duplicate detected")
	}

	// Path 1: exact normalized name. Empty keys match nothing.
	if cand.NormalizedName != "" {
		for _, rec := range rows {
			if rec.NormalizedName != cand.NormalizedName {
				continue
			}
			if !o.policy.AnyCheckEnabled() || o.checksPass(cand, rec) {
				accept(rec, "exact")
				if firstOnly {
					return matches, nil
				}
			}
		}
	}

	// Path 2: near name, only meaningful with metadata corroboration.
	if o.policy.AnyCheckEnabled() {
		for _, rec := range rows {
			if seen[rec.ID] {
				continue
			}
			if normalize.Similarity(cand.NormalizedName, rec.NormalizedName) < nearNameThreshold {
				continue
			}
			if o.checksPass(cand, rec) {
				accept(rec, "near")
				if firstOnly {
					return matches, nil
				}
			}
		}
	}

	// Path 3: metadata-only fallback, only when nothing matched by name.
	if len(matches) == 0 && o.policy.AnyCheckEnabled() {
		for _, rec := range rows {
			if o.checksPass(cand, rec) {
				accept(rec, "metadata")
				if firstOnly {
					return matches, nil
				}
			}
		}
	}

	return matches, nil
}

// MetadataMatches reports whether every enabled metadata check passes
// between the candidate and the stored record. Used by replacement to
// confirm a destination message really is the stored duplicate before
// deleting it. Always true when no check is enabled.
func (o *Oracle) MetadataMatches(cand *Candidate, rec *store.VideoRecord) bool {
	return o.checksPass(cand, rec)
}

// checksPass applies every enabled metadata check. Each enabled check
// must independently pass: both sides must carry the data and the
// difference must satisfy the tolerance. Missing data on either side of
// an enabled check rejects the row.
func (o *Oracle) checksPass(cand *Candidate, rec *store.VideoRecord) bool {
	p := o.policy

	if p.CheckDuration {
		if cand.DurationSec == nil || rec.DurationSec == nil {
			return false
		}
		if abs(*cand.DurationSec-*rec.DurationSec) > p.DurationToleranceSec {
			return false
		}
	}

	if p.CheckFileSize {
		if cand.SizeMB == nil || rec.SizeMB == nil {
			return false
		}
		if !withinPct(*cand.SizeMB, *rec.SizeMB, p.FileSizeTolerancePct) {
			return false
		}
	}

	if p.CheckResolution {
		if cand.Width == nil || cand.Height == nil || !rec.HasResolution() {
			return false
		}
		areaA := float64(*cand.Width) * float64(*cand.Height)
		areaB := float64(*rec.Width) * float64(*rec.Height)
		if !withinPct(areaA, areaB, p.ResolutionTolerancePct) {
			return false
		}
	}

	if p.CheckMimeType {
		if cand.MimeType == nil || rec.MimeType == nil {
			return false
		}
		if !strings.EqualFold(*cand.MimeType, *rec.MimeType) {
			return false
		}
	}

	return true
}

// withinPct reports whether |a-b| / max(a,b) * 100 <= pct. Two zero
// values compare equal.
func withinPct(a, b, pct float64) bool {
	maxVal := math.Max(a, b)
	if maxVal == 0 {
		return true
	}
	return math.Abs(a-b)/maxVal*100 <= pct
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
