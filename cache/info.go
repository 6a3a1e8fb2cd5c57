// Package cache implements the on-disk block cache fronting a slow
// upstream data source (spec §4.10-§4.15): the .cinfo sidecar format,
// in-RAM block lifecycle, File.Read/ReadV orchestration, the
// IOEntireFile/IOFileBlock adapters, and the LRU-by-access-time purge
// loop. Grounded on the teacher's memsys SGL pool for the RAM-budget
// idiom and fs/health.go for the advisory-locking posture around
// on-disk metadata.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cache

import (
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/xrootd-go/xrdcl/cmn/fname"
)

const (
	infoMagic   uint32 = 0x58524443 // "XRDC"
	infoVersion uint32 = 1

	// fixed header: magic[4] version[4] blockSize[8] fileSize[8]
	// blockCount[8] bitmapLen[4] accessCount[8] reserved[8]
	infoFixedLen = 4 + 4 + 8 + 8 + 8 + 4 + 8 + 8
)

// AccessRecord is one attach/detach cycle, appended to the .cinfo file
// by WriteIOStatDetach (spec §3/§4.10).
type AccessRecord struct {
	AppendTime time.Time
	DetachTime time.Time
	BytesRead  int64
	Hits       uint64
	Miss       uint64
}

const accessRecordLen = 8 + 8 + 8 + 8 + 8

// Info is the in-memory mirror of one file's .cinfo sidecar: a
// block-completion bitmap plus append-only access history. Every
// mutating method holds both the in-process mutex and, across the
// actual bitmap/access-record write, an advisory flock on the sidecar
// fd (§4.10: "hold an advisory file lock on the sidecar fd across
// bitmap and access-record mutation").
type Info struct {
	mu sync.Mutex
	fd *os.File

	BlockSize   int64
	FileSize    int64
	BlockCount  int64
	Bitmap      *bitset.BitSet
	AccessCount uint64

	records []AccessRecord
}

// CinfoPath derives the sidecar path for a cached data file path.
func CinfoPath(dataPath string) string { return dataPath + fname.CinfoSuffix }

// NewInfo builds a fresh Info for a file of fileSize bytes cached in
// blockSize chunks. blockCount = ceil(fileSize/blockSize), the
// invariant of spec §3.
func NewInfo(blockSize, fileSize int64) *Info {
	count := (fileSize + blockSize - 1) / blockSize
	if count < 0 {
		count = 0
	}
	return &Info{
		BlockSize:  blockSize,
		FileSize:   fileSize,
		BlockCount: count,
		Bitmap:     bitset.New(uint(count)),
	}
}

// Open loads (or creates) the sidecar file at path and, if it already
// holds a valid header, parses it into a fresh Info. A zero-length or
// freshly created file yields ok=false so the caller knows to call
// NewInfo and Save itself.
func Open(path string) (info *Info, ok bool, err error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, errors.Wrapf(err, "xrdcl/cache: open cinfo %s", path)
	}
	info = &Info{fd: fd}
	if err := info.flock(); err != nil {
		fd.Close()
		return nil, false, err
	}
	defer info.funlock()

	st, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, false, errors.WithStack(err)
	}
	if st.Size() < infoFixedLen {
		return info, false, nil
	}
	if err := info.readLocked(); err != nil {
		fd.Close()
		return nil, false, err
	}
	return info, true, nil
}

// Attach associates fd (already open, already NewInfo'd) with this
// Info so subsequent mutations flock it. Used when the caller builds a
// fresh Info (NewInfo) and then needs it persisted for the first time.
func (in *Info) Attach(fd *os.File) { in.fd = fd }

func (in *Info) flock() error {
	if in.fd == nil {
		return nil
	}
	return unix.Flock(int(in.fd.Fd()), unix.LOCK_EX)
}

func (in *Info) funlock() error {
	if in.fd == nil {
		return nil
	}
	return unix.Flock(int(in.fd.Fd()), unix.LOCK_UN)
}

func (in *Info) readLocked() error {
	if _, err := in.fd.Seek(0, 0); err != nil {
		return errors.WithStack(err)
	}
	hdr := make([]byte, infoFixedLen)
	if _, err := readFull(in.fd, hdr); err != nil {
		return errors.Wrapf(err, "xrdcl/cache: short cinfo header")
	}
	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != infoMagic {
		return errors.New("xrdcl/cache: bad cinfo magic")
	}
	in.BlockSize = int64(binary.BigEndian.Uint64(hdr[8:16]))
	in.FileSize = int64(binary.BigEndian.Uint64(hdr[16:24]))
	in.BlockCount = int64(binary.BigEndian.Uint64(hdr[24:32]))
	bitmapLen := binary.BigEndian.Uint32(hdr[32:36])
	in.AccessCount = binary.BigEndian.Uint64(hdr[36:44])

	raw := make([]byte, bitmapLen)
	if bitmapLen > 0 {
		if _, err := readFull(in.fd, raw); err != nil {
			return errors.Wrapf(err, "xrdcl/cache: short cinfo bitmap")
		}
	}
	bs := &bitset.BitSet{}
	if bitmapLen > 0 {
		if err := bs.UnmarshalBinary(raw); err != nil {
			return errors.Wrapf(err, "xrdcl/cache: corrupt cinfo bitmap")
		}
	} else {
		bs = bitset.New(uint(in.BlockCount))
	}
	in.Bitmap = bs

	in.records = in.records[:0]
	rec := make([]byte, accessRecordLen)
	for {
		n, err := in.fd.Read(rec)
		if n < accessRecordLen {
			break
		}
		in.records = append(in.records, AccessRecord{
			AppendTime: time.Unix(0, int64(binary.BigEndian.Uint64(rec[0:8]))),
			DetachTime: time.Unix(0, int64(binary.BigEndian.Uint64(rec[8:16]))),
			BytesRead:  int64(binary.BigEndian.Uint64(rec[16:24])),
			Hits:       binary.BigEndian.Uint64(rec[24:32]),
			Miss:       binary.BigEndian.Uint64(rec[32:40]),
		})
		if err != nil {
			break
		}
	}
	return nil
}

func readFull(f *os.File, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := f.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.New("xrdcl/cache: unexpected eof")
		}
	}
	return total, nil
}

// Save rewrites the full header + bitmap + access records, holding the
// advisory lock for the duration.
func (in *Info) Save() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.fd == nil {
		return nil
	}
	if err := in.flock(); err != nil {
		return err
	}
	defer in.funlock()
	return in.saveLocked()
}

func (in *Info) saveLocked() error {
	bitmapBytes, err := in.Bitmap.MarshalBinary()
	if err != nil {
		return errors.WithStack(err)
	}
	hdr := make([]byte, infoFixedLen)
	binary.BigEndian.PutUint32(hdr[0:4], infoMagic)
	binary.BigEndian.PutUint32(hdr[4:8], infoVersion)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(in.BlockSize))
	binary.BigEndian.PutUint64(hdr[16:24], uint64(in.FileSize))
	binary.BigEndian.PutUint64(hdr[24:32], uint64(in.BlockCount))
	binary.BigEndian.PutUint32(hdr[32:36], uint32(len(bitmapBytes)))
	binary.BigEndian.PutUint64(hdr[36:44], in.AccessCount)

	if _, err := in.fd.Seek(0, 0); err != nil {
		return errors.WithStack(err)
	}
	if _, err := in.fd.Write(hdr); err != nil {
		return errors.WithStack(err)
	}
	if _, err := in.fd.Write(bitmapBytes); err != nil {
		return errors.WithStack(err)
	}
	for _, r := range in.records {
		var rb [accessRecordLen]byte
		binary.BigEndian.PutUint64(rb[0:8], uint64(r.AppendTime.UnixNano()))
		binary.BigEndian.PutUint64(rb[8:16], uint64(r.DetachTime.UnixNano()))
		binary.BigEndian.PutUint64(rb[16:24], uint64(r.BytesRead))
		binary.BigEndian.PutUint64(rb[24:32], r.Hits)
		binary.BigEndian.PutUint64(rb[32:40], r.Miss)
		if _, err := in.fd.Write(rb[:]); err != nil {
			return errors.WithStack(err)
		}
	}
	return in.fd.Sync()
}

// SetBlockComplete sets bit idx after the data-file write for block idx
// has been flushed, per §4.10's ordering invariant, then persists.
func (in *Info) SetBlockComplete(idx int64) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if idx < 0 || idx >= in.BlockCount {
		return errors.Errorf("xrdcl/cache: block index %d out of range [0,%d)", idx, in.BlockCount)
	}
	in.Bitmap.Set(uint(idx))
	if in.fd == nil {
		return nil
	}
	if err := in.flock(); err != nil {
		return err
	}
	defer in.funlock()
	return in.saveLocked()
}

func (in *Info) IsBlockComplete(idx int64) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if idx < 0 || idx >= in.BlockCount {
		return false
	}
	return in.Bitmap.Test(uint(idx))
}

// IsComplete reports whether every bit in [0, BlockCount) is set.
func (in *Info) IsComplete() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return int64(in.Bitmap.Count()) == in.BlockCount
}

// WriteIOStatDetach appends one access record and bumps AccessCount,
// per §4.10.
func (in *Info) WriteIOStatDetach(rec AccessRecord) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.records = append(in.records, rec)
	in.AccessCount++
	if in.fd == nil {
		return nil
	}
	if err := in.flock(); err != nil {
		return err
	}
	defer in.funlock()
	return in.saveLocked()
}

// LatestAccessTime returns the most recent access record's AppendTime,
// zero if none recorded yet — the key the purge loop sorts cinfo files
// by (§4.15 step 2).
func (in *Info) LatestAccessTime() time.Time {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.records) == 0 {
		return time.Time{}
	}
	latest := in.records[0].AppendTime
	for _, r := range in.records[1:] {
		if r.AppendTime.After(latest) {
			latest = r.AppendTime
		}
	}
	return latest
}

func (in *Info) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.fd == nil {
		return nil
	}
	err := in.fd.Close()
	in.fd = nil
	return err
}
