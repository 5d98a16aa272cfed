package chatauth

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// StartWatching begins watching the store file's directory for external
// edits (an operator hand-editing the JSON file to revoke or grant a
// chat), grounded on the teacher's fsnotify usage in
// internal/driver/watcher/fileWatch.go. Unlike that folder-wide watcher,
// chatauth only cares about one file, so there is no per-extension
// screening: every write/create event on the store's own path is a
// candidate reload, filtered only by comparing the file's on-disk mtime
// against the mtime save() last recorded for its own write.
func (s *Store) StartWatching() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			s.reloadIfExternal()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("chat auth store watcher error", ratcamlog.Error(err))
		}
	}
}

func (s *Store) reloadIfExternal() {
	stat, err := os.Stat(s.path)
	if err != nil {
		return
	}
	s.mu.Lock()
	selfWrite := s.selfWriteAt
	s.mu.Unlock()
	if !stat.ModTime().After(selfWrite) {
		return
	}
	if err := s.Load(); err != nil {
		s.logger.Error("failed to reload externally-edited chat auth store", ratcamlog.Error(err))
		return
	}
	s.logger.Info("reloaded chat auth store after external edit")
}

// StopWatching stops the watch goroutine and releases the fsnotify
// handle. Safe to call even if StartWatching was never called.
func (s *Store) StopWatching() {
	if s.watcher == nil {
		return
	}
	close(s.stopCh)
	s.watcher.Close()
	<-s.doneCh
}
