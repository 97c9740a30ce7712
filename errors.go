// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nafll

import "errors"

// Error kinds reported by the curve engine and the NAFLL sequencer.
// Callers match them with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotSupported     = errors.New("not supported")
	ErrEquationFailure  = errors.New("equation failure")
	ErrIllegalOperation = errors.New("illegal operation")
	ErrOutOfRange       = errors.New("out of range")

	// ErrTimeout reports a hardware lock that never asserted.
	ErrTimeout = errors.New("timeout")
)
