// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package auditlog appends timestamped lines to the breach audit files
// (red.log and non_red.log). These files are an operator-facing paper
// trail, separate from the structured service log.
package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File is a serialized append-only log file. Lines carry the
// [YYYY-MM-DD HH:MM:SS] prefix.
type File struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open prepares an audit file at path. The file and its directory are
// created lazily on first write.
func Open(path string) *File {
	return &File{path: path, now: time.Now}
}

// Printf appends one formatted line.
func (f *File) Printf(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("auditlog: %w", err)
		}
	}
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("auditlog: %w", err)
	}
	defer fh.Close()

	line := fmt.Sprintf("[%s] %s\n", f.now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
	if _, err := fh.WriteString(line); err != nil {
		return fmt.Errorf("auditlog: %w", err)
	}
	return nil
}
