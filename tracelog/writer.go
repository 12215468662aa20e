// Package tracelog persists control-session CSM traffic as structured,
// newline-delimited JSON per named accessory link, with the same
// rotation and retention shape as a plain-text console log: one
// current.log symlink per session, rotated on demand, pruned by age.
package tracelog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"iap2accessory/csm"
)

// entry is one line of a trace file.
type entry struct {
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"` // "tx" or "rx"
	MsgID     string    `json:"msgId"`
	Wire      string    `json:"wire"` // hex-encoded re-serialization of msg
}

// Writer appends one JSON entry per traced CSM message to a rotating,
// per-session log file.
type Writer struct {
	basePath      string
	retentionDays int

	mu           sync.Mutex
	files        map[string]*os.File
	lastRotation map[string]time.Time
}

// NewWriter builds a Writer rooted at basePath. retentionDays <= 0
// disables Cleanup.
func NewWriter(basePath string, retentionDays int) *Writer {
	return &Writer{
		basePath:      basePath,
		retentionDays: retentionDays,
		files:         make(map[string]*os.File),
		lastRotation:  make(map[string]time.Time),
	}
}

// Trace implements session.Tracer: it appends one JSON line describing
// msg to name's current trace file.
func (w *Writer) Trace(name string, direction string, msg csm.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.getOrCreateFile(name)
	if err != nil {
		log.Errorf("tracelog: %s: %v", name, err)
		return
	}

	e := entry{
		Time:      time.Now(),
		Direction: direction,
		MsgID:     fmt.Sprintf("0x%04X", msg.MsgID()),
		Wire:      hex.EncodeToString(csm.Encode(msg)),
	}
	line, err := json.Marshal(e)
	if err != nil {
		log.Errorf("tracelog: marshal failed: %v", err)
		return
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		log.Errorf("tracelog: write failed: %v", err)
	}
}

func (w *Writer) getOrCreateFile(name string) (*os.File, error) {
	if f, ok := w.files[name]; ok {
		return f, nil
	}

	dir := filepath.Join(w.basePath, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	symlinkPath := filepath.Join(dir, "current.log")
	if target, err := os.Readlink(symlinkPath); err == nil {
		existing := filepath.Join(dir, target)
		if f, err := os.OpenFile(existing, os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			w.files[name] = f
			return f, nil
		}
	}

	filename := time.Now().Format("2006-01-02_15-04-05") + ".jsonl"
	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	w.files[name] = f
	os.Remove(symlinkPath)
	os.Symlink(filename, symlinkPath)
	return f, nil
}

// BasePath returns the root directory trace files are written under.
func (w *Writer) BasePath() string {
	return w.basePath
}

// CanRotate reports whether enough time has passed since the last
// rotation of name's trace file to allow another one.
func (w *Writer) CanRotate(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.lastRotation[name]; ok {
		return time.Since(last) >= 2*time.Minute
	}
	return true
}

// Rotate closes the current trace file for name and starts a fresh one.
func (w *Writer) Rotate(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if f, ok := w.files[name]; ok {
		f.Close()
		delete(w.files, name)
	}
	w.lastRotation[name] = time.Now()
	os.Remove(filepath.Join(w.basePath, name, "current.log"))
	return nil
}

// ListTraces lists a session's rotated trace filenames, newest first.
func (w *Writer) ListTraces(name string) ([]string, error) {
	dir := filepath.Join(w.basePath, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{e.Name(), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// Cleanup removes trace files older than retentionDays.
func (w *Writer) Cleanup() {
	if w.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	sessionDirs, err := os.ReadDir(w.basePath)
	if err != nil {
		return
	}
	for _, sessionDir := range sessionDirs {
		if !sessionDir.IsDir() {
			continue
		}
		sessionPath := filepath.Join(w.basePath, sessionDir.Name())
		files, err := os.ReadDir(sessionPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".jsonl" {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				path := filepath.Join(sessionPath, f.Name())
				os.Remove(path)
				log.Infof("tracelog: removed expired trace %s", path)
			}
		}
	}
}
