package cache

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// IOVec is one (offset, destination) pair of a vectored upstream read,
// the shape both File.ReadV and the direct-upstream fallback path of
// §4.12 step 4 / §4.13 share.
type IOVec struct {
	Off int64
	Dst []byte
}

// Source is the upstream data origin a cache File fronts: either the
// whole remote file (IOEntireFile) or one block-of-the-upstream
// (IOFileBlock's per-block sub-source). Grounded on the teacher's
// `core` object-reader abstraction generalized down to the two shapes
// spec §4.14 names.
type Source interface {
	ReadAt(p []byte, off int64) (int, error)
	ReadV(vecs []IOVec) error
	Stat() (size int64, err error)
	Close() error
}

// UpstreamOpener is supplied by the embedding application (this
// module's public non-goal is the transport that actually speaks
// XRootD `read`/`readv` to a server); it is the seam cache plugs into
// client.File without importing client and risking a cycle.
type UpstreamOpener interface {
	Open(path string) (Source, error)
}

// localFileSource adapts a plain os.File as a Source, for an
// UpstreamOpener whose origin is a local file.
type localFileSource struct{ f *os.File }

func NewLocalFileSource(f *os.File) Source { return &localFileSource{f} }

func (s *localFileSource) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.f.ReadAt(p, off)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (s *localFileSource) ReadV(vecs []IOVec) error {
	for _, v := range vecs {
		if _, err := s.ReadAt(v.Dst, v.Off); err != nil {
			return err
		}
	}
	return nil
}

func (s *localFileSource) Stat() (int64, error) {
	st, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (s *localFileSource) Close() error { return s.f.Close() }

// IOEntireFile wraps one upstream file as one logical cache File: the
// simple case of §4.14 where the whole remote object is a single
// cached entity with a single .cinfo.
type IOEntireFile struct {
	upstream Source
	info     *Info
}

func NewIOEntireFile(upstream Source, info *Info) *IOEntireFile {
	return &IOEntireFile{upstream: upstream, info: info}
}

// Fstat consults the cinfo for size when the download is complete (or
// the info predates any upstream call), falling back to the upstream
// otherwise — the exact contract named in §4.14.
func (io_ *IOEntireFile) Fstat() (size int64, fromCinfo bool, err error) {
	if io_.info != nil && (io_.info.IsComplete() || io_.upstream == nil) {
		return io_.info.FileSize, true, nil
	}
	if io_.upstream == nil {
		return io_.info.FileSize, true, nil
	}
	size, err = io_.upstream.Stat()
	return size, false, err
}

func (io_ *IOEntireFile) Source() Source { return io_.upstream }

// blockUpstream adapts a byte range [base, base+size) of a parent
// Source into its own zero-based Source, the seam IOFileBlock's
// per-block sub-File reads through.
type blockUpstream struct {
	parent Source
	base   int64
	size   int64
}

func newBlockUpstream(parent Source, base, size int64) *blockUpstream {
	return &blockUpstream{parent: parent, base: base, size: size}
}

func (b *blockUpstream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > b.size {
		return 0, errors.Errorf("xrdcl/cache: offset %d outside block [0,%d)", off, b.size)
	}
	want := p
	if off+int64(len(want)) > b.size {
		want = want[:b.size-off]
	}
	return b.parent.ReadAt(want, b.base+off)
}

func (b *blockUpstream) ReadV(vecs []IOVec) error {
	shifted := make([]IOVec, len(vecs))
	for i, v := range vecs {
		shifted[i] = IOVec{Off: b.base + v.Off, Dst: v.Dst}
	}
	return b.parent.ReadV(shifted)
}

func (b *blockUpstream) Stat() (int64, error) { return b.size, nil }
func (b *blockUpstream) Close() error         { return nil }
