package batch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// InboxHandler processes a recording dropped into the inbox. name is the file
// name relative to the inbox directory.
type InboxHandler func(ctx context.Context, meetingID, name string) error

var audioExtensions = map[string]bool{
	".webm": true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".flac": true,
}

// Inbox watches a directory for new recordings named <meetingID>.<ext>
type Inbox struct {
	dir         string
	handler     InboxHandler
	logger      *slog.Logger
	watcher     *fsnotify.Watcher
	settleDelay time.Duration
	semaphore   chan struct{}
	wg          sync.WaitGroup
}

// NewInbox creates an inbox watcher on dir
func NewInbox(dir string, handler InboxHandler, maxConcurrent int, settleDelay time.Duration, logger *slog.Logger) (*Inbox, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}

	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}

	return &Inbox{
		dir:         dir,
		handler:     handler,
		logger:      logger,
		watcher:     watcher,
		settleDelay: settleDelay,
		semaphore:   make(chan struct{}, maxConcurrent),
	}, nil
}

// Run processes new recordings until ctx is cancelled, then waits for
// in-flight handlers
func (in *Inbox) Run(ctx context.Context) error {
	in.logger.Info("Inbox watcher started",
		slog.String("dir", in.dir),
		slog.Int("max_concurrent", cap(in.semaphore)),
	)

	for {
		select {
		case <-ctx.Done():
			in.wg.Wait()
			in.logger.Info("Inbox watcher stopped")
			return nil

		case event, ok := <-in.watcher.Events:
			if !ok {
				in.wg.Wait()
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) {
				continue
			}

			meetingID, ok := MeetingIDFromPath(event.Name)
			if !ok {
				in.logger.Debug("Ignoring non-audio file", slog.String("path", event.Name))
				continue
			}

			select {
			case in.semaphore <- struct{}{}:
			case <-ctx.Done():
				in.wg.Wait()
				return nil
			}

			in.wg.Add(1)
			go in.handle(ctx, meetingID, filepath.Base(event.Name))

		case err, ok := <-in.watcher.Errors:
			if !ok {
				in.wg.Wait()
				return fmt.Errorf("watcher errors channel closed")
			}
			in.logger.Error("Inbox watcher error", slog.String("error", err.Error()))
		}
	}
}

func (in *Inbox) handle(ctx context.Context, meetingID, name string) {
	defer in.wg.Done()
	defer func() { <-in.semaphore }()

	// Give the writer a moment to finish the file
	if in.settleDelay > 0 {
		if err := sleepContext(ctx, in.settleDelay); err != nil {
			return
		}
	}

	in.logger.Info("New recording detected",
		slog.String("meeting_id", meetingID),
		slog.String("file", name),
	)
	if err := in.handler(ctx, meetingID, name); err != nil {
		in.logger.Error("Failed to process recording",
			slog.String("meeting_id", meetingID),
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops watching the directory
func (in *Inbox) Close() error {
	return in.watcher.Close()
}

// MeetingIDFromPath returns the meeting id encoded in a recording file name
func MeetingIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	ext := strings.ToLower(filepath.Ext(base))
	if !audioExtensions[ext] {
		return "", false
	}
	id := strings.TrimSuffix(base, filepath.Ext(base))
	return id, id != ""
}
