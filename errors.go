// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objcore

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Sentinel causes wrapped by Error.Err for the InvalidOptions paths that
// don't need their own ErrorKind.
var (
	errUnknownLockKind    = errors.New("unrecognized LockKind")
	errUnknownDupPolicy   = errors.New("unrecognized DupPolicy")
	errUnknownInsertEnd   = errors.New("unrecognized InsertEnd")
	errUnknownSearchFlags = errors.New("unrecognized SearchFlag bit set")
	errNotImplemented     = errors.New("container kind not implemented")
)

// ErrorKind classifies the failure returned by a public entry point. See
// the package-level Error type.
type ErrorKind int

const (
	// InvalidHandle indicates a bad magic value or a nil handle where a
	// live one was required.
	InvalidHandle ErrorKind = iota
	// InvalidOptions indicates a lock selector, duplicate policy, insert
	// end, or search flag combination outside the enumerated set.
	InvalidOptions
	// AllocationFailure is propagated from the underlying allocator.
	AllocationFailure
	// LockAcquisitionFailure is returned when a holder's writer lock
	// itself cannot be taken.
	LockAcquisitionFailure
	// DuplicateRejected names a rejection under the reject-key or
	// reject-same-object duplicate policies. Link reports such a rejection
	// by returning false with a nil error, not an Error of this kind.
	DuplicateRejected
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidHandle:
		return "InvalidHandle"
	case InvalidOptions:
		return "InvalidOptions"
	case AllocationFailure:
		return "AllocationFailure"
	case LockAcquisitionFailure:
		return "LockAcquisitionFailure"
	case DuplicateRejected:
		return "DuplicateRejected"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every public operation in
// this package that can fail. Op names the operation that failed (e.g.
// "Allocate", "Link"); Err, if non-nil, carries the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("objcore: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("objcore: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can do errors.Is(err, &Error{Kind: InvalidHandle}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(op string, kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errInvalidHandle(op string) *Error {
	Log().Error("objcore: invalid handle", zap.String("op", op))
	return newError(op, InvalidHandle, nil)
}

func errInvalidOptions(op string, err error) *Error {
	return newError(op, InvalidOptions, err)
}
