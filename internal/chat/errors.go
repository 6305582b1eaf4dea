// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package chat

import (
	"errors"
	"fmt"
)

// floodWaitCode is the protocol's numeric code for rate limiting.
const floodWaitCode = 420

// FloodWaitError is the protocol's rate-limiting signal. Seconds is the
// required quiet period and is authoritative: the driver sleeps exactly
// that long before retrying.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("FLOOD_WAIT: retry after %d seconds", e.Seconds)
}

// RPCError is a generic protocol error exposing the upstream message and
// numeric code. Code 420 without an explicit seconds hint is treated as
// transient by the driver.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("rpc error %d", e.Code)
}

// AsFloodWait reports whether err is a flood-wait signal carrying an
// explicit seconds hint.
func AsFloodWait(err error) (*FloodWaitError, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}

// IsTransient reports whether err is a rate-limit signal without an
// explicit wait hint (code 420) or a generic network failure worth an
// exponential-backoff retry.
func IsTransient(err error) bool {
	var rpc *RPCError
	if errors.As(err, &rpc) {
		return rpc.Code == floodWaitCode
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, ErrNetwork)
}

// ErrNetwork is the sentinel transports wrap transient connectivity
// failures with so the driver can recognize them.
var ErrNetwork = errors.New("chat: network failure")
