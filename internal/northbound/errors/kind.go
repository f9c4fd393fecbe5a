// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the caller-facing classification of an engine error.
type Kind string

const (
	KindNone           Kind = ""
	KindValidation     Kind = "ValidationError"
	KindNotFound       Kind = "NotFound"
	KindConflict       Kind = "Conflict"
	KindLockTimeout    Kind = "LockTimeout"
	KindAccessDenied   Kind = "AccessDenied"
	KindStorageBackend Kind = "StorageBackendError"
	KindQuotaExceeded  Kind = "QuotaExceeded"
	KindInternal       Kind = "Internal"
)

// KindOf classifies err by its status code. Errors that do not carry a status
// are reported as internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.OutOfRange:
		return KindValidation
	case codes.NotFound:
		return KindNotFound
	case codes.Aborted, codes.FailedPrecondition, codes.AlreadyExists:
		return KindConflict
	case codes.DeadlineExceeded:
		return KindLockTimeout
	case codes.PermissionDenied, codes.Unauthenticated:
		return KindAccessDenied
	case codes.Unavailable:
		return KindStorageBackend
	case codes.ResourceExhausted:
		return KindQuotaExceeded
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the same request may succeed if repeated later.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindLockTimeout || k == KindStorageBackend
}

func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
