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

// Package common holds the error sentinels shared by the entry tree and the
// request dispatcher. The dispatcher maps them onto kernel errnos.
package common

import "errors"

var (
	ErrNotFound           = errors.New("no such entry")
	ErrExists             = errors.New("entry already exists")
	ErrNotDir             = errors.New("not a directory")
	ErrIsDir              = errors.New("is a directory")
	ErrNotEmpty           = errors.New("directory not empty")
	ErrForbidden          = errors.New("forbidden name")
	ErrBackendUnavailable = errors.New("backend temporarily unavailable")
	ErrInvalidHandle      = errors.New("invalid handle")
)
