package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileHandler is called once per detected archive after it has finished
// being written.
type FileHandler func(ctx context.Context, filePath string) error

// FileWatcher watches the inbound directory for new archives and hands them
// to the handler. Events are debounced so a file being written triggers a
// single submission.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	watchDir string
	pattern  string // file name pattern, e.g. "*.jar"
	handler  FileHandler
	logger   *logrus.Logger
	debounce time.Duration

	mu         sync.Mutex
	processing map[string]bool

	stopChan chan struct{}
}

func NewFileWatcher(watchDir, pattern string, handler FileHandler, logger *logrus.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := os.MkdirAll(watchDir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	if err := watcher.Add(watchDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	fw := &FileWatcher{
		watcher:    watcher,
		watchDir:   watchDir,
		pattern:    pattern,
		handler:    handler,
		logger:     logger,
		debounce:   2 * time.Second,
		processing: make(map[string]bool),
		stopChan:   make(chan struct{}),
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": watchDir,
		"pattern":   pattern,
	}).Info("File watcher created")

	return fw, nil
}

// Start launches the event loop. Files already present at startup are not
// scanned; the duplicate guard on task creation would reject most of them
// anyway, and re-analysis goes through the API.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.logger.Info("Starting file watcher")

	go fw.eventLoop(ctx)

	fw.logger.Info("File watcher started")
	return nil
}

func (fw *FileWatcher) eventLoop(ctx context.Context) {
	debounceTimer := make(map[string]*time.Timer)
	var timerMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			fw.logger.Info("File watcher context done")
			return
		case <-fw.stopChan:
			fw.logger.Info("File watcher stopped")
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				fw.logger.Warn("Watcher events channel closed")
				return
			}

			if event.Op&fsnotify.Create != fsnotify.Create &&
				event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}

			fileName := filepath.Base(event.Name)
			if !fw.matchPattern(fileName) {
				continue
			}

			fw.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"file":  fileName,
			}).Debug("File event detected")

			// a file being written fires many events; only the last one counts
			timerMu.Lock()
			if timer, exists := debounceTimer[event.Name]; exists {
				timer.Stop()
			}
			name := event.Name
			debounceTimer[name] = time.AfterFunc(fw.debounce, func() {
				timerMu.Lock()
				delete(debounceTimer, name)
				timerMu.Unlock()
				fw.handleFile(ctx, name)
			})
			timerMu.Unlock()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				fw.logger.Warn("Watcher errors channel closed")
				return
			}
			fw.logger.WithError(err).Error("Watcher error")
		}
	}
}

func (fw *FileWatcher) handleFile(ctx context.Context, filePath string) {
	fw.mu.Lock()
	if fw.processing[filePath] {
		fw.mu.Unlock()
		fw.logger.WithField("file", filePath).Debug("File is already being processed")
		return
	}
	fw.processing[filePath] = true
	fw.mu.Unlock()

	defer func() {
		fw.mu.Lock()
		delete(fw.processing, filePath)
		fw.mu.Unlock()
	}()

	if err := fw.waitForFileReady(filePath); err != nil {
		fw.logger.WithError(err).WithField("file", filePath).Error("File not ready")
		return
	}

	fw.logger.WithField("file", filePath).Info("Processing file")

	if err := fw.handler(ctx, filePath); err != nil {
		fw.logger.WithError(err).WithField("file", filePath).Error("Failed to process file")
		return
	}

	fw.logger.WithField("file", filePath).Info("File submitted")
}

// waitForFileReady polls until the file size is stable, meaning the writer
// has finished.
func (fw *FileWatcher) waitForFileReady(filePath string) error {
	maxAttempts := 10
	for i := 0; i < maxAttempts; i++ {
		file, err := os.OpenFile(filePath, os.O_RDONLY, 0644)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		info1, err := file.Stat()
		if err != nil {
			file.Close()
			return err
		}

		time.Sleep(500 * time.Millisecond)

		info2, err := file.Stat()
		if err != nil {
			file.Close()
			return err
		}

		file.Close()

		if info1.Size() == info2.Size() && info1.Size() > 0 {
			return nil
		}
	}

	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

func (fw *FileWatcher) matchPattern(fileName string) bool {
	if fw.pattern == "*" {
		return true
	}

	if strings.HasPrefix(fw.pattern, "*.") {
		ext := strings.TrimPrefix(fw.pattern, "*")
		return strings.HasSuffix(strings.ToLower(fileName), strings.ToLower(ext))
	}

	return fileName == fw.pattern
}

func (fw *FileWatcher) Stop() error {
	fw.logger.Info("Stopping file watcher")
	close(fw.stopChan)

	if fw.watcher != nil {
		return fw.watcher.Close()
	}

	return nil
}

func (fw *FileWatcher) GetWatchDir() string {
	return fw.watchDir
}
