package cache

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/xrootd-go/xrdcl/cmn/fname"
	"github.com/xrootd-go/xrdcl/cmn/nlog"
)

// Cache owns the path->File map and the process-wide RAM Budget, per
// §5's "Cache lock covers the (path -> File) map and RAM budget".
type Cache struct {
	mu      sync.Mutex
	files   map[string]*fileEntry
	budget  *Budget
	dataDir string // oss data_space root, §6
	metaDir string // oss meta_space root, §6 (may equal dataDir)

	blockSize  int64
	fsyncAll   bool
	protected  map[string]struct{} // purge-protected paths, §4.15 step 4
}

type fileEntry struct {
	file   *File
	opened bool // resolves the open question: never hand out an unopened handle
	refs   int
}

func New(dataDir, metaDir string, ramBudgetBytes, blockSize int64, fsyncAll bool) *Cache {
	if metaDir == "" {
		metaDir = dataDir
	}
	return &Cache{
		files:     make(map[string]*fileEntry),
		budget:    NewBudget(ramBudgetBytes),
		dataDir:   dataDir,
		metaDir:   metaDir,
		blockSize: blockSize,
		fsyncAll:  fsyncAll,
		protected: make(map[string]struct{}),
	}
}

// dataPath/cinfoPath place a cached object's two files on their
// respective configured oss spaces (§6).
func (c *Cache) dataPath(origPath string) string {
	return filepath.Join(c.dataDir, origPath)
}

func (c *Cache) cinfoPath(origPath string) string {
	return filepath.Join(c.metaDir, origPath) + fname.CinfoSuffix
}

// GetFile resolves origPath to an open *File, opening (and caching) it
// on first use. This module resolves the File::Open / File::ReleaseIO
// race as follows: GetFile returns
// a handle only once Open has actually succeeded; a failed open never
// publishes a partially-constructed entry, and a concurrent caller
// racing the same path waits for the first opener rather than racing
// os.OpenFile twice.
func (c *Cache) GetFile(origPath string, opener UpstreamOpener) (*File, error) {
	c.mu.Lock()
	if e, ok := c.files[origPath]; ok {
		if e.opened {
			e.refs++
			c.mu.Unlock()
			return e.file, nil
		}
		// another goroutine's open is still in flight; caller retries
		// after it publishes or removes the entry. A tight retry loop
		// is acceptable here: opens are rare relative to reads.
		c.mu.Unlock()
		return c.waitAndRetry(origPath, opener)
	}
	e := &fileEntry{}
	c.files[origPath] = e
	c.mu.Unlock()

	upstream, err := opener.Open(origPath)
	if err != nil {
		c.mu.Lock()
		delete(c.files, origPath)
		c.mu.Unlock()
		return nil, errors.Wrapf(err, "xrdcl/cache: open upstream %s", origPath)
	}

	f, err := OpenFile(c.dataPath(origPath), upstream, c.budget, c.blockSize, c.fsyncAll)
	if err != nil {
		c.mu.Lock()
		delete(c.files, origPath)
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	e.file = f
	e.opened = true
	e.refs = 1
	c.mu.Unlock()
	return f, nil
}

func (c *Cache) waitAndRetry(origPath string, opener UpstreamOpener) (*File, error) {
	for i := 0; i < 1000; i++ {
		c.mu.Lock()
		e, ok := c.files[origPath]
		if ok && e.opened {
			e.refs++
			c.mu.Unlock()
			return e.file, nil
		}
		if !ok {
			c.mu.Unlock()
			return c.GetFile(origPath, opener)
		}
		c.mu.Unlock()
	}
	return nil, errors.Errorf("xrdcl/cache: timed out waiting for concurrent open of %s", origPath)
}

// ReleaseIO drops one reference on origPath's File, closing it once no
// caller still holds it.
func (c *Cache) ReleaseIO(origPath string) error {
	c.mu.Lock()
	e, ok := c.files[origPath]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	e.refs--
	closeNow := e.refs <= 0 && e.opened
	if closeNow {
		delete(c.files, origPath)
	}
	c.mu.Unlock()
	if closeNow {
		nlog.TInfof(nlog.TopicCache, "%s: closing after %s idle", origPath, e.file.IdleFor())
		return e.file.Close()
	}
	return nil
}

// Protect/Unprotect mark origPath as purge-protected while an active IO
// holds it, per §4.15's "(active-files, purge-protected) set" rule.
func (c *Cache) Protect(origPath string) {
	c.mu.Lock()
	c.protected[origPath] = struct{}{}
	c.mu.Unlock()
}

func (c *Cache) Unprotect(origPath string) {
	c.mu.Lock()
	delete(c.protected, origPath)
	c.mu.Unlock()
}

func (c *Cache) IsProtected(origPath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, active := c.files[origPath]
	_, protected := c.protected[origPath]
	return active || protected
}

func (c *Cache) Budget() *Budget { return c.budget }
func (c *Cache) DataDir() string { return c.dataDir }
func (c *Cache) MetaDir() string { return c.metaDir }

// hdfsBlockSizeParam parses the hdfsbsize=N opaque query parameter
// IOFileBlock's URLs carry, per §4.14/§6.
func hdfsBlockSizeParam(opaque string) (int64, bool) {
	for _, kv := range strings.Split(opaque, "&") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 && parts[0] == "hdfsbsize" {
			n, err := strconv.ParseInt(parts[1], 10, 64)
			if err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}
