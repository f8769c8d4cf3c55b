package trajectory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Summary holds the parsed contents of a trajectory file. Outcome is nil for
// a run that crashed or is still in flight.
type Summary struct {
	Meta    Meta
	Turns   []TurnRecord
	Outcome *OutcomeRecord
}

// ReadFile reads and parses a trajectory file from disk.
func ReadFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trajectory %q: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a JSONL trajectory stream. A malformed final line (a crash
// mid-flush) is tolerated: everything up to the last complete line is
// returned. A malformed line anywhere else is an error.
func Read(r io.Reader) (*Summary, error) {
	scanner := bufio.NewScanner(r)
	// Tool output in turn records can be large.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	summary := &Summary{}
	lineNum := 0
	var pendingErr error

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if pendingErr != nil {
			// The malformed line was not the last one; the file is corrupt.
			return nil, pendingErr
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			pendingErr = fmt.Errorf("line %d: unmarshal entry: %w", lineNum, err)
			continue
		}

		switch entry.Type {
		case TypeMeta:
			if err := json.Unmarshal(entry.Data, &summary.Meta); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal meta: %w", lineNum, err)
			}
		case TypeTurn:
			var turn TurnRecord
			if err := json.Unmarshal(entry.Data, &turn); err != nil {
				pendingErr = fmt.Errorf("line %d: unmarshal turn: %w", lineNum, err)
				continue
			}
			summary.Turns = append(summary.Turns, turn)
		case TypeOutcome:
			var outcome OutcomeRecord
			if err := json.Unmarshal(entry.Data, &outcome); err != nil {
				return nil, fmt.Errorf("line %d: unmarshal outcome: %w", lineNum, err)
			}
			summary.Outcome = &outcome
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning trajectory: %w", err)
	}
	if lineNum == 0 {
		return nil, fmt.Errorf("empty trajectory")
	}
	if summary.Meta.TaskID == "" {
		return nil, fmt.Errorf("trajectory missing meta entry")
	}
	return summary, nil
}
