package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/tidwall/buntdb"
	"golang.org/x/sys/unix"

	"github.com/xrootd-go/xrdcl/cmn/fname"
	"github.com/xrootd-go/xrdcl/cmn/metrics"
	"github.com/xrootd-go/xrdcl/cmn/nlog"
)

// PurgeConfig bundles the knobs of spec §4.15.
type PurgeConfig struct {
	Interval time.Duration
	CronSpec string // optional, alongside the plain interval ticker

	DiskHighWatermarkBytes int64
	DiskLowWatermarkBytes  int64
	MaxFileCount           int

	AgeLimit time.Duration // 0 disables the age-based pass

	// CandidateOverhead is the "125% of bytes-to-remove" factor of
	// §4.15 step 2, expressed as a multiplier (default 1.25).
	CandidateOverhead float64
}

// Purger runs the LRU-by-access-time and age-based sweep of §4.15 on a
// configurable interval, optionally also on a cron schedule.
type Purger struct {
	cache *Cache
	cfg   PurgeConfig
	cron  *cron.Cron

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	reclaimedBytes int64
}

func NewPurger(c *Cache, cfg PurgeConfig) *Purger {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.CandidateOverhead <= 0 {
		cfg.CandidateOverhead = 1.25
	}
	return &Purger{cache: c, cfg: cfg, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Run drives the ticker loop until Stop is called; intended to run in
// its own goroutine, per spec §4.15's "runs in its own thread".
func (p *Purger) Run() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()
	defer close(p.doneCh)

	if p.cfg.CronSpec != "" {
		p.cron = cron.New()
		if _, err := p.cron.AddFunc(p.cfg.CronSpec, func() {
			if err := p.Sweep(); err != nil {
				nlog.TInfof(nlog.TopicPurge, "cron sweep: %v", err)
			}
		}); err != nil {
			nlog.Errorf("xrdcl/cache: bad purge cron spec %q: %v", p.cfg.CronSpec, err)
		} else {
			p.cron.Start()
		}
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.Sweep(); err != nil {
				nlog.TInfof(nlog.TopicPurge, "sweep: %v", err)
			}
		case <-p.stopCh:
			if p.cron != nil {
				p.cron.Stop()
			}
			return
		}
	}
}

func (p *Purger) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Purger) ReclaimedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reclaimedBytes
}

type candidate struct {
	cinfoPath string
	dataPath  string
	size      int64
	accessNS  int64
}

// Sweep performs one full pass of §4.15's five steps. It takes (and
// releases) an advisory lock on fname.PurgeLockFile for the duration
// so two processes never race a purge of the same tree.
func (p *Purger) Sweep() error {
	lockPath := filepath.Join(p.cache.DataDir(), fname.PurgeLockFile)
	lockFd, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "xrdcl/cache: open purge lock")
	}
	defer lockFd.Close()
	if err := unix.Flock(int(lockFd.Fd()), unix.LOCK_EX); err != nil {
		return errors.Wrapf(err, "xrdcl/cache: lock purge")
	}
	defer unix.Flock(int(lockFd.Fd()), unix.LOCK_UN)

	toRemove, err := p.bytesToRemove()
	if err != nil {
		return err
	}
	if toRemove <= 0 {
		return nil
	}

	db, err := buntdb.Open(":memory:")
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close()

	budget := int64(float64(toRemove) * p.cfg.CandidateOverhead)
	if err := p.collectCandidates(db, budget); err != nil {
		return err
	}
	if p.cfg.AgeLimit > 0 {
		if err := p.collectAged(db); err != nil {
			return err
		}
	}

	return p.reclaim(db, toRemove)
}

// bytesToRemove implements step 1: the larger of disk-high-watermark
// excess and an estimate of file-count excess.
func (p *Purger) bytesToRemove() (int64, error) {
	var diskExcess int64
	if p.cfg.DiskHighWatermarkBytes > 0 {
		usage, err := disk.Usage(p.cache.DataDir())
		if err == nil && int64(usage.Used) > p.cfg.DiskHighWatermarkBytes {
			diskExcess = int64(usage.Used) - p.cfg.DiskLowWatermarkBytes
		}
	}

	var fileCountExcess int64
	if p.cfg.MaxFileCount > 0 {
		count, totalSize := p.countCinfoFiles()
		if count > p.cfg.MaxFileCount && count > 0 {
			over := count - p.cfg.MaxFileCount
			fileCountExcess = totalSize * int64(over) / int64(count)
		}
	}

	if diskExcess > fileCountExcess {
		return diskExcess, nil
	}
	return fileCountExcess, nil
}

func (p *Purger) countCinfoFiles() (count int, totalSize int64) {
	_ = godirwalk.Walk(p.cache.MetaDir(), &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || !strings.HasSuffix(path, fname.CinfoSuffix) {
				return nil
			}
			if st, err := os.Stat(path); err == nil {
				count++
				totalSize += st.Size()
			}
			return nil
		},
	})
	return
}

// collectCandidates implements step 2: walk the cache tree, read every
// .cinfo's (path, size, latest-access-time), and keep the oldest
// entries until budget bytes are covered (Sweep passes bytes-to-remove
// times CandidateOverhead). Corrupt cinfo files are deleted
// immediately along with their data file rather than added to the
// index.
func (p *Purger) collectCandidates(db *buntdb.DB, budget int64) error {
	var all []candidate
	err := godirwalk.Walk(p.cache.MetaDir(), &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || !strings.HasSuffix(path, fname.CinfoSuffix) {
				return nil
			}
			dataPath := strings.TrimSuffix(path, fname.CinfoSuffix)
			if p.cache.IsProtected(dataPath) {
				return nil
			}
			info, ok, err := Open(path)
			if err != nil || !ok {
				p.deleteFiles(path, dataPath)
				return nil
			}
			defer info.Close()

			st, statErr := os.Stat(dataPath)
			var size int64
			if statErr == nil {
				size = st.Size()
			}
			at := info.LatestAccessTime()
			all = append(all, candidate{cinfoPath: path, dataPath: dataPath, size: size, accessNS: at.UnixNano()})
			return nil
		},
	})
	if err != nil {
		return err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].accessNS < all[j].accessNS })
	var kept int64
	return db.Update(func(tx *buntdb.Tx) error {
		for _, cand := range all {
			if kept >= budget {
				break
			}
			kept += cand.size
			if _, _, err := tx.Set(candidateKey(cand), cand.dataPath, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// collectAged implements step 3: unconditionally add entries older
// than AgeLimit, regardless of the budget cap above.
func (p *Purger) collectAged(db *buntdb.DB) error {
	cutoff := time.Now().Add(-p.cfg.AgeLimit)
	return godirwalk.Walk(p.cache.MetaDir(), &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || !strings.HasSuffix(path, fname.CinfoSuffix) {
				return nil
			}
			dataPath := strings.TrimSuffix(path, fname.CinfoSuffix)
			if p.cache.IsProtected(dataPath) {
				return nil
			}
			info, ok, err := Open(path)
			if err != nil || !ok {
				return nil
			}
			defer info.Close()
			at := info.LatestAccessTime()
			if at.IsZero() || at.After(cutoff) {
				return nil
			}
			st, statErr := os.Stat(dataPath)
			var size int64
			if statErr == nil {
				size = st.Size()
			}
			cand := candidate{cinfoPath: path, dataPath: dataPath, size: size, accessNS: at.UnixNano()}
			return db.Update(func(tx *buntdb.Tx) error {
				_, _, err := tx.Set(candidateKey(cand), cand.dataPath, nil)
				return err
			})
		},
	})
}

// candidateKey's zero-padded access-time prefix makes buntdb's default
// lexicographic key order equal oldest-first access-time order.
func candidateKey(c candidate) string {
	return fmt.Sprintf("%020d:%s", c.accessNS, c.cinfoPath)
}

// reclaim implements step 4: iterate the map oldest-first, skip
// protected/open files, unlink both halves, decrement the budget.
func (p *Purger) reclaim(db *buntdb.DB, toRemove int64) error {
	var removed int64
	var toDelete []candidate

	err := db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, dataPath string) bool {
			if removed >= toRemove {
				return false
			}
			if p.cache.IsProtected(dataPath) {
				return true
			}
			var sz int64
			if st, err := os.Stat(dataPath); err == nil {
				sz = st.Size()
			}
			toDelete = append(toDelete, candidate{dataPath: dataPath, cinfoPath: CinfoPath(dataPath), size: sz})
			removed += sz
			return true
		})
	})
	if err != nil {
		return errors.WithStack(err)
	}

	for _, c := range toDelete {
		if p.cache.IsProtected(c.dataPath) {
			continue
		}
		p.deleteFiles(c.cinfoPath, c.dataPath)
	}

	p.mu.Lock()
	p.reclaimedBytes += removed
	p.mu.Unlock()
	metrics.PurgeBytesReclaimed.Add(float64(removed))
	nlog.TInfof(nlog.TopicPurge, "reclaimed %d bytes across %d files", removed, len(toDelete))
	return nil
}

func (p *Purger) deleteFiles(cinfoPath, dataPath string) {
	_ = os.Remove(cinfoPath)
	_ = os.Remove(dataPath)
}
