package trajectory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Follower tails a trajectory file as it is written, emitting each complete
// entry on a channel. Because the writer appends whole fsync'd lines, the
// follower only ever sees complete entries plus at most one partial line,
// which it leaves for the next read.
type Follower struct {
	path    string
	logger  *zap.Logger
	entries chan Entry

	offset int64
	buf    []byte
}

// pollInterval backstops fsnotify on filesystems with unreliable events.
const pollInterval = 2 * time.Second

// NewFollower creates a Follower for the given trajectory file. The file does
// not need to exist yet.
func NewFollower(path string, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{
		path:    path,
		logger:  logger,
		entries: make(chan Entry, 64),
	}
}

// Entries returns the channel of tailed entries. It is closed when Run
// returns.
func (f *Follower) Entries() <-chan Entry { return f.entries }

// Run watches the file until ctx is cancelled or an outcome entry is seen.
func (f *Follower) Run(ctx context.Context) error {
	defer close(f.entries)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: the file may not exist yet and the
	// writer reopens it on every line.
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %q: %w", dir, err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Catch up on anything already written.
	if done, err := f.drain(ctx); err != nil || done {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != f.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if done, err := f.drain(ctx); err != nil || done {
				return err
			}
		case <-ticker.C:
			if done, err := f.drain(ctx); err != nil || done {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// drain reads new bytes past the last offset and emits complete lines.
// Returns true once the outcome entry has been emitted.
func (f *Follower) drain(ctx context.Context) (bool, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer file.Close()

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return false, err
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Partial line: re-read it once the writer finishes.
			f.buf = append(f.buf[:0], line...)
			break
		}
		f.offset += int64(len(line))

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			f.logger.Warn("skipping malformed entry", zap.Error(err))
			continue
		}
		select {
		case f.entries <- entry:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if entry.Type == TypeOutcome {
			return true, nil
		}
	}
	return false, nil
}
