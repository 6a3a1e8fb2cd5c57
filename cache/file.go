package cache

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xrootd-go/xrdcl/cmn/metrics"
	"github.com/xrootd-go/xrdcl/cmn/mono"
	"github.com/xrootd-go/xrdcl/cmn/nlog"
)

// PrefetchState is the per-File speculative-read FSM of spec §3.
type PrefetchState int

const (
	PrefetchOff PrefetchState = iota
	PrefetchOn
	PrefetchStopped
	PrefetchComplete
)

// Budget is the cache-wide "RAM available?" predicate of §4.11: reads
// that cannot reserve a block fall through to a direct upstream read
// for that chunk instead of blocking for memory.
type Budget struct {
	mu       sync.Mutex
	capacity int64
	used     int64
}

func NewBudget(capacityBytes int64) *Budget {
	return &Budget{capacity: capacityBytes}
}

func (b *Budget) TryReserve(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used+n > b.capacity {
		return false
	}
	b.used += n
	return true
}

func (b *Budget) Release(n int64) {
	b.mu.Lock()
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
	b.mu.Unlock()
}

func (b *Budget) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// File is one cached logical file: upstream source, local data fd,
// .cinfo, the RAM block map, and the download condvar that Read/ReadV
// wait on, per spec §3/§4.12/§4.13.
type File struct {
	mu   sync.Mutex
	cond *sync.Cond

	path      string
	upstream  Source
	dataFd    *os.File
	info      *Info
	blockSize int64

	blocks map[int64]*Block
	budget *Budget

	prefetch PrefetchState
	hits     uint64
	misses   uint64

	// lastAccessNano is a mono.NanoTime() reading, not a wall-clock
	// timestamp: it only ever feeds mono.Since for in-process idle-time
	// decisions (ReleaseIO's log line below), never the on-disk
	// AccessRecord, which needs a real time.Time to survive a restart.
	lastAccessNano int64

	ioTag    uintptr
	fsyncAll bool
	closed   bool
}

// ioTagSeq hands out distinct identities for each File/adapter acting
// as an "owning IO" per §4.11's ownership-transfer rule.
var ioTagSeq uintptr

func nextIOTag() uintptr {
	ioTagSeq++
	return ioTagSeq
}

// OpenFile constructs a File backed by upstream, persisting state to
// dataPath/cinfoPath. budget is shared across every File in one Cache
// so the RAM predicate is process-wide, not per-file.
func OpenFile(dataPath string, upstream Source, budget *Budget, blockSize int64, fsyncAll bool) (*File, error) {
	size, _, err := (&IOEntireFile{upstream: upstream}).Fstat()
	if err != nil {
		return nil, errors.Wrapf(err, "xrdcl/cache: stat upstream for %s", dataPath)
	}

	dataFd, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "xrdcl/cache: open data file %s", dataPath)
	}

	info, existed, err := Open(CinfoPath(dataPath))
	if err != nil {
		dataFd.Close()
		return nil, err
	}
	if !existed {
		fresh := NewInfo(blockSize, size)
		info.BlockSize, info.FileSize, info.BlockCount, info.Bitmap = fresh.BlockSize, fresh.FileSize, fresh.BlockCount, fresh.Bitmap
		if err := info.Save(); err != nil {
			dataFd.Close()
			return nil, err
		}
	}

	f := &File{
		path:      dataPath,
		upstream:  upstream,
		dataFd:    dataFd,
		info:      info,
		blockSize: blockSize,
		blocks:    make(map[int64]*Block),
		budget:    budget,
		prefetch:  PrefetchOn,
		ioTag:     nextIOTag(),
		fsyncAll:  fsyncAll,
	}
	f.cond = sync.NewCond(&f.mu)
	return f, nil
}

func (f *File) blockRange(off, length int64) (first, last int64) {
	first = off / f.blockSize
	last = (off + length - 1) / f.blockSize
	return
}

func (f *File) blockOffset(idx int64) int64 { return idx * f.blockSize }

func (f *File) blockLen(idx int64) int64 {
	start := f.blockOffset(idx)
	rem := f.info.FileSize - start
	if rem > f.blockSize {
		return f.blockSize
	}
	if rem < 0 {
		return 0
	}
	return rem
}

func (f *File) clamp(off, length int64) (int64, int64) {
	if off < 0 {
		off = 0
	}
	if off > f.info.FileSize {
		return f.info.FileSize, 0
	}
	if off+length > f.info.FileSize {
		length = f.info.FileSize - off
	}
	return off, length
}

type diskRange struct {
	off int64
	len int64
	dst []byte // destination slice within the caller's buffer
}

// Read implements spec §4.12. It clamps the range, partitions it into
// blocks, and for each block either attaches to an existing RAM block,
// schedules a disk read, allocates a fresh block for prefetch, or
// (when the RAM budget is exhausted) folds the range into a direct
// upstream read.
func (f *File) Read(off, length int64, buf []byte) (int, error) {
	off, length = f.clamp(off, length)
	if length <= 0 {
		return 0, nil
	}
	first, last := f.blockRange(off, length)

	var (
		waitBlocks []*Block
		newBlocks  []*Block
		disk       []diskRange
		direct     []IOVec
	)

	f.mu.Lock()
	for idx := first; idx <= last; idx++ {
		bstart := f.blockOffset(idx)
		blen := f.blockLen(idx)
		rangeOff, rangeLen := overlap(off, length, bstart, blen)
		dst := buf[rangeOff-off : rangeOff-off+rangeLen]

		if b, ok := f.blocks[idx]; ok {
			b.Hold()
			waitBlocks = append(waitBlocks, b)
			continue
		}
		if f.info.IsBlockComplete(idx) {
			disk = append(disk, diskRange{off: rangeOff, len: rangeLen, dst: dst})
			continue
		}
		if f.budget.TryReserve(blen) {
			b := NewBlock(f.path, idx, blen, true, f.ioTag)
			f.blocks[idx] = b
			b.Hold()
			newBlocks = append(newBlocks, b)
			continue
		}
		direct = append(direct, IOVec{Off: rangeOff, Dst: dst})
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range newBlocks {
		wg.Add(1)
		go f.fetchBlock(b, &wg)
	}

	var firstErr error
	n := 0

	if len(direct) > 0 {
		if err := f.upstream.ReadV(direct); err != nil && firstErr == nil {
			firstErr = err
		} else {
			for _, v := range direct {
				n += len(v.Dst)
			}
		}
	}

	for _, r := range disk {
		if _, err := f.dataFd.ReadAt(r.dst, r.off); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "xrdcl/cache: disk read %s", f.path)
		} else {
			n += len(r.dst)
		}
	}

	wg.Wait()

	f.mu.Lock()
	for _, b := range append(append([]*Block{}, waitBlocks...), newBlocks...) {
		for b.State() == BlockPending {
			f.cond.Wait()
		}
		switch b.State() {
		case BlockOk, BlockWritten:
			bstart := f.blockOffset(b.Index)
			blen := f.blockLen(b.Index)
			rangeOff, rangeLen := overlap(off, length, bstart, blen)
			if rangeLen > 0 {
				copy(buf[rangeOff-off:rangeOff-off+rangeLen], b.Bytes()[rangeOff-bstart:rangeOff-bstart+rangeLen])
				n += int(rangeLen)
			}
			f.recordHit()
		case BlockFailed:
			if b.OwningIO() == f.ioTag && firstErr == nil {
				firstErr = b.Err()
			} else if firstErr == nil {
				// another IO owns the failure; reissue under our
				// ownership per §4.11's ownership-transfer rule.
				b.ResetErrorAndSetIO(f.ioTag)
				f.recordMiss()
			}
		}
		if b.Release() {
			f.evictLocked(b)
		}
	}
	f.mu.Unlock()

	if firstErr != nil {
		return n, firstErr
	}
	return n, nil
}

// ReadV implements §4.13: same per-chunk classification as Read, but
// driven by a vector of (off, len, dst) triples and with a single
// fan-in direct upstream ReadV across every chunk's direct leftovers.
func (f *File) ReadV(chunks []IOVec) (int, error) {
	var (
		waitBlocks []*Block
		newBlocks  []*Block
		disk       []diskRange
		direct     []IOVec
	)

	f.mu.Lock()
	for _, c := range chunks {
		off, length := f.clamp(c.Off, int64(len(c.Dst)))
		if length <= 0 {
			continue
		}
		first, last := f.blockRange(off, length)
		for idx := first; idx <= last; idx++ {
			bstart := f.blockOffset(idx)
			blen := f.blockLen(idx)
			rangeOff, rangeLen := overlap(off, length, bstart, blen)
			dst := c.Dst[rangeOff-c.Off : rangeOff-c.Off+rangeLen]

			if b, ok := f.blocks[idx]; ok {
				b.Hold()
				waitBlocks = append(waitBlocks, b)
				continue
			}
			if f.info.IsBlockComplete(idx) {
				disk = append(disk, diskRange{off: rangeOff, len: rangeLen, dst: dst})
				continue
			}
			if f.budget.TryReserve(blen) {
				b := NewBlock(f.path, idx, blen, true, f.ioTag)
				f.blocks[idx] = b
				b.Hold()
				newBlocks = append(newBlocks, b)
				continue
			}
			direct = append(direct, IOVec{Off: rangeOff, Dst: dst})
		}
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range newBlocks {
		wg.Add(1)
		go f.fetchBlock(b, &wg)
	}

	n := 0
	var firstErr error
	if len(direct) > 0 {
		if err := f.upstream.ReadV(direct); err != nil {
			firstErr = err
		} else {
			for _, v := range direct {
				n += len(v.Dst)
			}
		}
	}
	for _, r := range disk {
		if _, err := f.dataFd.ReadAt(r.dst, r.off); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "xrdcl/cache: disk read %s", f.path)
			}
		} else {
			n += len(r.dst)
		}
	}

	wg.Wait()

	f.mu.Lock()
	allBlocks := append(append([]*Block{}, waitBlocks...), newBlocks...)
	sort.Slice(allBlocks, func(i, j int) bool { return allBlocks[i].Index < allBlocks[j].Index })
	for _, b := range allBlocks {
		for b.State() == BlockPending {
			f.cond.Wait()
		}
		if st := b.State(); st == BlockOk || st == BlockWritten {
			n += f.scatterBlock(b, chunks)
			f.recordHit()
		} else if b.State() == BlockFailed && firstErr == nil {
			if b.OwningIO() == f.ioTag {
				firstErr = b.Err()
			} else {
				b.ResetErrorAndSetIO(f.ioTag)
				f.recordMiss()
			}
		}
		if b.Release() {
			f.evictLocked(b)
		}
	}
	f.mu.Unlock()

	if firstErr != nil {
		return n, firstErr
	}
	return n, nil
}

// scatterBlock copies a completed block's bytes into every chunk
// destination that overlaps it, since a single block may satisfy
// pieces of more than one ReadV chunk.
func (f *File) scatterBlock(b *Block, chunks []IOVec) int {
	bstart := f.blockOffset(b.Index)
	blen := f.blockLen(b.Index)
	total := 0
	for _, c := range chunks {
		off, length := f.clamp(c.Off, int64(len(c.Dst)))
		rangeOff, rangeLen := overlap(off, length, bstart, blen)
		if rangeLen <= 0 {
			continue
		}
		copy(c.Dst[rangeOff-c.Off:rangeOff-c.Off+rangeLen], b.Bytes()[rangeOff-bstart:rangeOff-bstart+rangeLen])
		total += int(rangeLen)
	}
	return total
}

// overlap returns the intersection of [aOff,aOff+aLen) and
// [bOff,bOff+bLen), or (aOff, 0) when disjoint.
func overlap(aOff, aLen, bOff, bLen int64) (off, length int64) {
	start := aOff
	if bOff > start {
		start = bOff
	}
	end := aOff + aLen
	if bOff+bLen < end {
		end = bOff + bLen
	}
	if end <= start {
		return aOff, 0
	}
	return start, end - start
}

// fetchBlock issues the upstream network read for a freshly allocated
// block, then write-through persists it: write the bytes to the data
// file, flush/fsync per config, set the bitmap bit, and only then mark
// the block Written (§4.10's ordering invariant: "bit i is set
// atomically after the data-file write for block i has been flushed").
func (f *File) fetchBlock(b *Block, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := b.Bytes()
	n, err := f.upstream.ReadAt(buf, f.blockOffset(b.Index))
	f.mu.Lock()
	if err != nil {
		b.CompleteFailed(err)
		f.budget.Release(int64(len(buf)))
		f.cond.Broadcast()
		f.mu.Unlock()
		nlog.TInfof(nlog.TopicCache, "%s: block %d fetch failed: %v", f.path, b.Index, err)
		return
	}
	b.CompleteOk(n)
	f.mu.Unlock()

	if _, werr := f.dataFd.WriteAt(buf[:n], f.blockOffset(b.Index)); werr != nil {
		f.mu.Lock()
		b.CompleteFailed(werr)
		f.budget.Release(int64(len(buf)))
		f.cond.Broadcast()
		f.mu.Unlock()
		return
	}
	if f.fsyncAll {
		_ = f.dataFd.Sync()
	}
	_ = f.info.SetBlockComplete(b.Index)
	b.MarkWritten()

	f.mu.Lock()
	// a Read/ReadV that attached to this block while it was pending
	// waits only for it to leave Pending, not for this write-through,
	// and may already have dropped its reference; catch the
	// now-evictable block here instead of leaking it in the map until
	// the next access to the same block.
	if b.RefCount() == 0 {
		f.evictLocked(b)
	}
	f.cond.Broadcast()
	f.mu.Unlock()
}

// evictLocked drops an evictable block from the map and releases its
// budget reservation; callers hold f.mu.
func (f *File) evictLocked(b *Block) {
	delete(f.blocks, b.Index)
	f.budget.Release(int64(len(b.Bytes())))
}

// recordHit/recordMiss update both the per-File counters Stats reports
// and the process-wide prometheus counters; callers hold f.mu.
func (f *File) recordHit() {
	f.hits++
	f.lastAccessNano = mono.NanoTime()
	metrics.CacheHits.Inc()
}

func (f *File) recordMiss() {
	f.misses++
	f.lastAccessNano = mono.NanoTime()
	metrics.CacheMisses.Inc()
}

func (f *File) Stats() (hits, misses uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits, f.misses
}

// IdleFor reports how long it has been since the last recorded hit or
// miss. Zero before the first access.
func (f *File) IdleFor() time.Duration {
	f.mu.Lock()
	last := f.lastAccessNano
	f.mu.Unlock()
	if last == 0 {
		return 0
	}
	return mono.Since(last)
}

func (f *File) Info() *Info { return f.info }

func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	var errs []error
	if err := f.info.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := f.dataFd.Close(); err != nil {
		errs = append(errs, err)
	}
	if f.upstream != nil {
		if err := f.upstream.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
