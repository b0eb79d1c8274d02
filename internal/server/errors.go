// Copyright 2026 MemFuse Authors
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

package server

import (
	"errors"
	"syscall"

	"memfuse/internal/common"
)

// Kernel-facing error codes mapped to syscall errors.
var (
	ENOENT    = syscall.ENOENT    // No such file or directory
	EEXIST    = syscall.EEXIST    // File exists
	ENOTDIR   = syscall.ENOTDIR   // Not a directory
	EISDIR    = syscall.EISDIR    // Is a directory
	ENOTEMPTY = syscall.ENOTEMPTY // Directory not empty
	EBADF     = syscall.EBADF     // Bad file descriptor
	EINVAL    = syscall.EINVAL    // Invalid argument
	EPERM     = syscall.EPERM     // Operation not permitted
	EAGAIN    = syscall.EAGAIN    // Try again
	ENOSYS    = syscall.ENOSYS    // Function not implemented
	EIO       = syscall.EIO       // I/O error
)

// errno translates graph-layer errors into the errno the kernel expects.
// Unknown failures collapse to EIO so the caller sees a real error rather
// than an internal message.
func errno(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, common.ErrNotFound):
		return ENOENT
	case errors.Is(err, common.ErrExists):
		return EEXIST
	case errors.Is(err, common.ErrNotDir):
		return ENOTDIR
	case errors.Is(err, common.ErrIsDir):
		return EISDIR
	case errors.Is(err, common.ErrNotEmpty):
		return ENOTEMPTY
	case errors.Is(err, common.ErrForbidden):
		return EPERM
	case errors.Is(err, common.ErrBackendUnavailable):
		return EAGAIN
	case errors.Is(err, common.ErrInvalidHandle):
		return EBADF
	}
	return EIO
}
