// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the write bursts editors produce when saving.
const watchDebounce = 200 * time.Millisecond

// Watch reloads the catalog whenever any on-disk source changes.
//
// Description:
//
//	Watches the parent directories of every configured source (watching
//	directories survives the rename-and-replace dance most editors and
//	config tools do on save). Events are debounced, then a full Reload is
//	attempted; a failed reload keeps the previous catalog.
//
//	Blocks until ctx is cancelled. Intended to run in its own goroutine:
//
//	    go reg.Watch(ctx)
//
// Outputs:
//   - error: Non-nil only when the watcher itself cannot be established.
//     Reload failures are logged and retried on the next event.
func (r *Registry) Watch(ctx context.Context) error {
	paths := make([]string, 0, 1+len(r.extras))
	if r.catalogPath != "" {
		paths = append(paths, r.catalogPath)
	}
	paths = append(paths, r.extras...)
	if len(paths) == 0 {
		<-ctx.Done() // embedded-only catalog never changes
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := make(map[string]bool, len(paths))
	targets := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		targets[abs] = true
		dir := filepath.Dir(abs)
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			r.logger.Warn("registry: cannot watch catalog directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			continue
		}
		watched[dir] = true
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				abs = ev.Name
			}
			if !targets[abs] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			if err := r.Reload(); err != nil {
				r.logger.Warn("registry: watcher reload failed, keeping previous catalog",
					slog.String("error", err.Error()),
				)
			} else {
				r.logger.Info("registry: catalog reloaded by watcher")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("registry: watcher error", slog.String("error", err.Error()))
		}
	}
}
