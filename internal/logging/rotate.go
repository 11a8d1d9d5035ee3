package logging

import (
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"duckrace/server/internal/config"
)

// backupStamp names rotated files. Millisecond precision keeps bursts of rotations apart and the
// names sort in rotation order.
const backupStamp = "20060102T150405.000"

// rotationPolicy is the validated form of the DUCKRACE_LOG_* settings.
type rotationPolicy struct {
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
	compress   bool
}

func policyFrom(cfg config.LoggingConfig) (rotationPolicy, error) {
	var problems []string
	if cfg.MaxSizeMB <= 0 {
		problems = append(problems, "DUCKRACE_LOG_MAX_SIZE_MB must be positive")
	}
	if cfg.MaxBackups < 0 {
		problems = append(problems, "DUCKRACE_LOG_MAX_BACKUPS must be non-negative")
	}
	if cfg.MaxAgeDays < 0 {
		problems = append(problems, "DUCKRACE_LOG_MAX_AGE_DAYS must be non-negative")
	}
	if len(problems) > 0 {
		return rotationPolicy{}, errors.New(strings.Join(problems, "; "))
	}
	return rotationPolicy{
		maxBytes:   int64(cfg.MaxSizeMB) << 20,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		compress:   cfg.Compress,
	}, nil
}

// rotatingWriter appends to one active log file and moves it aside once it would outgrow the
// size limit. Backups are pruned by count and by the age encoded in their names.
type rotatingWriter struct {
	mu     sync.Mutex
	path   string
	policy rotationPolicy
	now    func() time.Time
	file   *os.File
	size   int64
}

func newRotatingWriter(cfg config.LoggingConfig) (*rotatingWriter, error) {
	policy, err := policyFrom(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	w := &rotatingWriter{path: cfg.Path, policy: policy, now: time.Now}
	if err := w.openLocked(os.O_APPEND); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) openLocked(mode int) error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file, w.size = file, info.Size()
	return nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, errors.New("log file closed")
	}
	//1.- Rotate first so a single record never straddles two files.
	if w.size > 0 && w.size+int64(len(p)) > w.policy.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *rotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	backup := w.path + "." + w.now().UTC().Format(backupStamp)
	if err := os.Rename(w.path, backup); err != nil {
		return err
	}
	if w.policy.compress {
		if err := gzipFile(backup); err == nil {
			_ = os.Remove(backup)
		}
	}
	w.pruneLocked()
	return w.openLocked(os.O_TRUNC)
}

// pruneLocked removes backups beyond the retention count or older than the age limit.
func (w *rotatingWriter) pruneLocked() {
	backups := w.backups()
	cutoff := time.Time{}
	if w.policy.maxAge > 0 {
		cutoff = w.now().Add(-w.policy.maxAge)
	}
	for i, b := range backups {
		expired := !cutoff.IsZero() && b.rotatedAt.Before(cutoff)
		surplus := w.policy.maxBackups > 0 && i >= w.policy.maxBackups
		if expired || surplus {
			_ = os.Remove(b.path)
		}
	}
}

type backupFile struct {
	path      string
	rotatedAt time.Time
}

// backups lists rotated files newest first, reading the rotation time back out of the name.
func (w *rotatingWriter) backups() []backupFile {
	dir, base := filepath.Split(w.path)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	prefix := base + "."
	var out []backupFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".gz")
		rotatedAt, err := time.Parse(backupStamp, stamp)
		if err != nil {
			continue
		}
		out = append(out, backupFile{path: filepath.Join(dir, name), rotatedAt: rotatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rotatedAt.After(out[j].rotatedAt) })
	return out
}

// gzipFile writes src.gz next to src.
func gzipFile(src string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(src + ".gz")
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	gz := gzip.NewWriter(out)
	if _, err = io.Copy(gz, in); err != nil {
		_ = gz.Close()
		return err
	}
	return gz.Close()
}
