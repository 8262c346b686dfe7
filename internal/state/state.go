package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"
)

// Run is the bookkeeping kept for one caption run. Captions themselves
// live only in the run's output file.
type Run struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	ImagesDir  string    `json:"images_dir"`
	OutputPath string    `json:"output_path"`
	Backend    string    `json:"backend"`
	Model      string    `json:"model,omitempty"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	FailedIDs  []string  `json:"failed_ids,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

var (
	ErrLockTimeout = errors.New("state lock timeout")
	ErrRunNotFound = errors.New("run not found")
)

type stateFile struct {
	Runs []Run `json:"runs"`
}

// RecordRun upserts a run by ID.
func RecordRun(run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}

	return withLock(func() error {
		state, err := readStateUnlocked()
		if err != nil {
			return err
		}

		replaced := false
		for i := range state.Runs {
			if state.Runs[i].ID == run.ID {
				state.Runs[i] = run
				replaced = true
				break
			}
		}
		if !replaced {
			state.Runs = append(state.Runs, run)
		}
		return writeStateFile(state)
	})
}

// GetRun returns a run by ID.
func GetRun(id string) (Run, error) {
	var found Run
	err := withLock(func() error {
		state, err := readStateUnlocked()
		if err != nil {
			return err
		}
		for _, run := range state.Runs {
			if run.ID == id {
				found = run
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	})
	return found, err
}

// ListRuns returns all recorded runs, newest first.
func ListRuns() ([]Run, error) {
	var runs []Run
	err := withLock(func() error {
		state, err := readStateUnlocked()
		if err != nil {
			return err
		}
		runs = state.Runs
		return nil
	})
	sortNewestFirst(runs)
	return runs, err
}

// PruneRuns keeps the newest keep runs and reports how many were dropped.
func PruneRuns(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	removed := 0
	err := withLock(func() error {
		state, err := readStateUnlocked()
		if err != nil {
			return err
		}
		if len(state.Runs) <= keep {
			return nil
		}
		sortNewestFirst(state.Runs)
		removed = len(state.Runs) - keep
		state.Runs = state.Runs[:keep]
		return writeStateFile(state)
	})
	return removed, err
}

func sortNewestFirst(runs []Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}

type lockHandle struct {
	file *os.File
}

func withLock(fn func() error) error {
	handle, err := acquireLock()
	if err != nil {
		return err
	}
	defer handle.release()
	return fn()
}

func acquireLock() (*lockHandle, error) {
	dir := stateDir()
	if dir == "" {
		return nil, errors.New("state directory unavailable")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, "runs.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(lockTimeout())
	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &lockHandle{file: file}, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			file.Close()
			return nil, fmt.Errorf("lock state: %w", err)
		}
		if time.Now().After(deadline) {
			file.Close()
			return nil, ErrLockTimeout
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (handle *lockHandle) release() {
	if handle == nil || handle.file == nil {
		return
	}
	_ = syscall.Flock(int(handle.file.Fd()), syscall.LOCK_UN)
	_ = handle.file.Close()
}

// readStateUnlocked treats a missing or corrupt index as empty; the next
// write replaces it.
func readStateUnlocked() (stateFile, error) {
	path := stateFilePath()
	if path == "" {
		return stateFile{}, errors.New("state file path unavailable")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return stateFile{}, nil
		}
		return stateFile{}, fmt.Errorf("read state file: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return stateFile{}, nil
	}
	return state, nil
}

func writeStateFile(state stateFile) error {
	if state.Runs == nil {
		state.Runs = []Run{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	path := stateFilePath()
	if path == "" {
		return errors.New("state file path unavailable")
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func lockTimeout() time.Duration {
	if value := os.Getenv("CAPPAIR_LOCK_TIMEOUT"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Second
		}
	}
	return 10 * time.Second
}

func stateDir() string {
	if value := os.Getenv("CAPPAIR_STATE_DIR"); value != "" {
		return value
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "cappair")
}

func stateFilePath() string {
	if value := os.Getenv("CAPPAIR_STATE_FILE"); value != "" {
		return value
	}
	dir := stateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "runs.json")
}
