// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"go.uber.org/zap"
)

// resourceWatcher pushes notifications/resources/updated when a file-backed
// resource changes on disk.
type resourceWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	once    sync.Once
}

// RegisterFileResource registers a resource whose contents come from a file
// on disk and watches it with fsnotify: every write to the file fans out
// notifications/resources/updated to a subscribed client. The watcher stops
// when the server closes.
func (s *Server) RegisterFileResource(resource protocol.Resource, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	reader := func(ctx context.Context) ([]protocol.ResourceContents, error) {
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", absPath, err)
		}
		return []protocol.ResourceContents{{
			URI:      resource.URI,
			MimeType: resource.MimeType,
			Text:     string(data),
		}}, nil
	}

	if err := s.RegisterResource(resource, reader); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the parent directory: editors replace files on save, which
	// drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", absPath, err)
	}

	rw := &resourceWatcher{watcher: watcher, path: absPath}
	s.mu.Lock()
	s.watchers = append(s.watchers, rw)
	s.mu.Unlock()

	go s.watchLoop(rw, resource.URI)
	return nil
}

// watchLoop translates filesystem events for the watched file into resource
// update notifications.
func (s *Server) watchLoop(rw *resourceWatcher, uri string) {
	for {
		select {
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != rw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.ResourceUpdated(context.Background(), uri); err != nil {
				s.logger.Debug("resource update notification failed",
					zap.String("uri", uri), zap.Error(err))
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("resource watcher error",
				zap.String("path", rw.path), zap.Error(err))
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (rw *resourceWatcher) Close() error {
	var err error
	rw.once.Do(func() {
		err = rw.watcher.Close()
	})
	return err
}
