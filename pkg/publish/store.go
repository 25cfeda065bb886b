/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package publish maintains the per-VM memory override records read by the host's
// status reporting.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultDir     = "/tmp"
	DefaultPattern = "pve-vm-%d-mem-override"

	recordMode = 0o644
)

var errInvalidPattern = errors.New("record pattern must contain exactly one %d and no path separator")

// Store persists one decimal byte count per VM id.
type Store interface {
	Write(vmid int, bytes uint64) error
	Remove(vmid int) error
	List() ([]int, error)
}

// FileStore keeps records as files named by pattern inside dir.
type FileStore struct {
	dir    string
	prefix string
	suffix string
}

// NewFileStore validates pattern and returns a store rooted at dir.
func NewFileStore(dir, pattern string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	if pattern == "" {
		pattern = DefaultPattern
	}

	if strings.Count(pattern, "%") != 1 || strings.ContainsRune(pattern, filepath.Separator) {
		return nil, fmt.Errorf("%w: %q", errInvalidPattern, pattern)
	}

	prefix, suffix, ok := strings.Cut(pattern, "%d")
	if !ok {
		return nil, fmt.Errorf("%w: %q", errInvalidPattern, pattern)
	}

	return &FileStore{dir: dir, prefix: prefix, suffix: suffix}, nil
}

// Path returns the record location for vmid.
func (s *FileStore) Path(vmid int) string {
	return filepath.Join(s.dir, s.prefix+strconv.Itoa(vmid)+s.suffix)
}

// Write replaces the record atomically so readers never observe a partial value.
func (s *FileStore) Write(vmid int, bytes uint64) error {
	tmp, err := os.CreateTemp(s.dir, "."+s.prefix+strconv.Itoa(vmid)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record for VM %d: %w", vmid, err)
	}

	tmpName := tmp.Name()

	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return err
	}

	if _, err := tmp.WriteString(strconv.FormatUint(bytes, 10)); err != nil {
		return cleanup(fmt.Errorf("write record for VM %d: %w", vmid, err))
	}

	if err := tmp.Chmod(recordMode); err != nil {
		return cleanup(fmt.Errorf("chmod record for VM %d: %w", vmid, err))
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("close record for VM %d: %w", vmid, err)
	}

	if err := os.Rename(tmpName, s.Path(vmid)); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("publish record for VM %d: %w", vmid, err)
	}

	return nil
}

// Remove deletes the record for vmid. A missing record is not an error.
func (s *FileStore) Remove(vmid int) error {
	if err := os.Remove(s.Path(vmid)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove record for VM %d: %w", vmid, err)
	}

	return nil
}

// List returns the ids of all records present, sorted ascending.
func (s *FileStore) List() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list records in %s: %w", s.dir, err)
	}

	var ids []int

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if id, ok := s.parseName(entry.Name()); ok {
			ids = append(ids, id)
		}
	}

	sort.Ints(ids)

	return ids, nil
}

func (s *FileStore) parseName(name string) (int, bool) {
	if len(name) <= len(s.prefix)+len(s.suffix) ||
		!strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, s.suffix) {
		return 0, false
	}

	middle := name[len(s.prefix) : len(name)-len(s.suffix)]

	for _, r := range middle {
		if r < '0' || r > '9' {
			return 0, false
		}
	}

	id, err := strconv.Atoi(middle)
	if err != nil {
		return 0, false
	}

	return id, true
}
