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
	"sync"

	"go.uber.org/zap"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()
)

// Log returns the logger this package uses for the one descriptive line
// per error path that spec.md §7 calls for: bad magic, negative refcount,
// destructor failure, occupancy mismatches found by Check in devmode.
// Tombstones left behind when a container is destroyed are not logged.
// It defaults to
// a no-op logger, so an embedding process that never calls SetLogger pays
// nothing for logging it never asked for.
func Log() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger installs the *zap.Logger the package logs through. Passing nil
// restores the no-op default. This is deliberately the only logging
// configuration surface objcore exposes — process-wide logging policy
// (output sinks, levels, rotation) is the embedder's concern, not this
// package's; see spec.md §1's "process-wide logging" non-goal.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}
