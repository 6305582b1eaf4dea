// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package chat

// Media is the sum type of message media the core distinguishes. The
// upstream protocol signals media variants through string-tagged fields;
// Lift inspects those tags once at ingress so the rest of the pipeline
// only ever switches on two cases.
type Media interface {
	isMedia()
}

// NotVideo is media the pipeline has no interest in (photos, stickers,
// documents without a video nature).
type NotVideo struct{}

func (NotVideo) isMedia() {}

// Video is a document-backed video with the metadata the dedup policy
// can compare on. Width and Height are either both set or both zero.
type Video struct {
	FileName  string
	MimeType  string
	SizeBytes int64

	// Flagged is the protocol-level "this document is a video" flag.
	Flagged bool

	// DurationSec comes from the document's video attribute.
	// Valid only when HasDuration is true.
	DurationSec int
	HasDuration bool

	Width  int
	Height int
}

func (Video) isMedia() {}

// SizeMB converts the document size to megabytes.
func (v Video) SizeMB() float64 {
	return float64(v.SizeBytes) / (1024 * 1024)
}

// RawDocument mirrors the tag-field shape the wire protocol uses for
// document media. Transports construct it verbatim from the decoded
// update and hand it to Lift.
type RawDocument struct {
	Type      string // protocol tag, "document" for document media
	FileName  string
	MimeType  string
	SizeBytes int64

	// VideoFlag is set when the protocol marks the document as video.
	VideoFlag bool

	// HasVideoAttribute is set when the document carries a video
	// attribute record; DurationSec/Width/Height come from it.
	HasVideoAttribute bool
	DurationSec       int
	Width             int
	Height            int
}

// Lift converts a raw media record into the Media sum type. A document is
// a video when the protocol flags it as one or when it carries a video
// attribute; anything else is NotVideo. A nil raw means no media at all,
// which callers represent as a nil Media.
func Lift(raw *RawDocument) Media {
	if raw == nil {
		return nil
	}
	if raw.Type != "document" {
		return NotVideo{}
	}
	if !raw.VideoFlag && !raw.HasVideoAttribute {
		return NotVideo{}
	}
	v := Video{
		FileName:  raw.FileName,
		MimeType:  raw.MimeType,
		SizeBytes: raw.SizeBytes,
		Flagged:   raw.VideoFlag,
	}
	if raw.HasVideoAttribute {
		v.HasDuration = true
		v.DurationSec = raw.DurationSec
		// Resolution is only trusted when both dimensions are present.
		if raw.Width > 0 && raw.Height > 0 {
			v.Width = raw.Width
			v.Height = raw.Height
		}
	}
	return v
}
