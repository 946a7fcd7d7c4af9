// Copyright 2026 The Dropvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dropvisor

import (
	"errors"
)

var (
	ErrBinaryNotFound = errors.New("Daemon binary not found or not executable")
	ErrKeygenNotFound = errors.New("Key helper not found or not executable")
	ErrSpawnFailure   = errors.New("Failed to spawn process")
	ErrPipeSetup      = errors.New("Failed to set up log pipe")
	ErrKeygenFailure  = errors.New("Host key generation failed")
	ErrReadError      = errors.New("Failed reading daemon output")
	ErrAlreadyRunning = errors.New("Daemon is already running")
	ErrNotRunning     = errors.New("Daemon is not running")
	ErrProbeFailed    = errors.New("SSH probe failed")
	ErrBadPropType    = errors.New("Bad property type")
	ErrBadPropName    = errors.New("Bad property name")
	ErrBadPropValue   = errors.New("Bad property value")
	ErrPropReadOnly   = errors.New("Property not changeable")
)
