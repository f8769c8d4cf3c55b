package trajectory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Writer persists a trajectory as JSONL. It uses open-write-sync-close
// semantics: the file is held open only during each write, so external tools
// can tail it freely between turns.
type Writer struct {
	path string
}

// NewWriter creates a Writer for the named run under dir, creating the
// directory if needed. The name must be unique per run, not per task, or a
// rerun would interleave two trajectories in one file.
func NewWriter(dir, name string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating trajectory dir %q: %w", dir, err)
	}
	return &Writer{path: filepath.Join(dir, name+".jsonl")}, nil
}

// Path returns the trajectory file path.
func (w *Writer) Path() string { return w.path }

// WriteMeta writes the header line. Meta starts a trajectory, so any stale
// content at the path is truncated away.
func (w *Writer) WriteMeta(m Meta) error {
	return w.writeEntry(metaEntry(m), os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

// WriteTurn appends one completed turn.
func (w *Writer) WriteTurn(t TurnRecord) error {
	return w.writeEntry(turnEntry(t), os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

// WriteOutcome appends the terminal outcome line.
func (w *Writer) WriteOutcome(o OutcomeRecord) error {
	return w.writeEntry(outcomeEntry(o), os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

func (w *Writer) writeEntry(entry Entry, flags int) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshalling trajectory entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(w.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening trajectory file %q: %w", w.path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing trajectory entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing trajectory file: %w", err)
	}
	return nil
}
