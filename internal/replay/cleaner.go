package replay

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"duckrace/server/internal/logging"
)

// RetentionPolicy bounds how many race artefacts stay on disk and for how long.
type RetentionPolicy struct {
	MaxRaces int
	MaxAge   time.Duration
}

// StorageStats summarises the disk footprint of persisted races.
type StorageStats struct {
	Bundles   int
	Dumps     int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner periodically prunes bundles and recorder dumps according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided replay directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type artefact struct {
	name    string
	path    string
	bundle  bool
	size    int64
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	artefacts := c.collect(entries)
	now := c.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	track := func(art *artefact) {
		kept++
		if art.bundle {
			stats.Bundles++
		} else {
			stats.Dumps++
		}
		stats.Bytes += art.size
	}
	for _, art := range artefacts {
		reason := c.expired(art, now, kept)
		if reason == "" {
			track(art)
			continue
		}
		if err := removeArtefact(art); err != nil {
			c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("artefact", art.name))
			track(art)
			continue
		}
		c.log.Info("replay retention removed artefact", logging.String("artefact", art.name), logging.String("reason", reason))
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// collect keeps bundle directories and gzip dumps, ignoring anything else in the directory.
func (c *Cleaner) collect(entries []os.DirEntry) []*artefact {
	list := make([]*artefact, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		switch {
		case entry.IsDir():
			//1.- Only directories carrying a header count as bundles.
			if _, err := os.Stat(filepath.Join(path, headerFile)); err != nil {
				continue
			}
			size, modTime, err := directoryFootprint(path)
			if err != nil {
				c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
				continue
			}
			list = append(list, &artefact{name: entry.Name(), path: path, bundle: true, size: size, modTime: modTime})
		case strings.HasSuffix(entry.Name(), ".json.gz"):
			list = append(list, &artefact{name: entry.Name(), path: path, size: info.Size(), modTime: info.ModTime()})
		}
	}
	//2.- Newest first so the race cap keeps the most recent artefacts.
	sort.Slice(list, func(i, j int) bool {
		if list[i].modTime.Equal(list[j].modTime) {
			return list[i].name > list[j].name
		}
		return list[i].modTime.After(list[j].modTime)
	})
	return list
}

func (c *Cleaner) expired(art *artefact, now time.Time, kept int) string {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(art.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxRaces > 0 && kept >= c.policy.MaxRaces {
		reasons = append(reasons, fmt.Sprintf(">=%d races", c.policy.MaxRaces))
	}
	return strings.Join(reasons, ", ")
}

func removeArtefact(art *artefact) error {
	if art.bundle {
		return os.RemoveAll(art.path)
	}
	if err := os.Remove(art.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// directoryFootprint sums file sizes and reports the newest modification time under root.
func directoryFootprint(root string) (int64, time.Time, error) {
	var total int64
	var newest time.Time
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if !d.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, newest, err
}
