package cache

import (
	"sync"
)

// BlockState is the in-RAM block lifecycle of spec §4.11.
type BlockState int

const (
	BlockPending BlockState = iota
	BlockOk
	BlockFailed
	BlockWritten
)

func (s BlockState) String() string {
	switch s {
	case BlockPending:
		return "pending"
	case BlockOk:
		return "ok"
	case BlockFailed:
		return "failed"
	case BlockWritten:
		return "written"
	default:
		return "block-state(?)"
	}
}

// Block is one in-RAM cache block (spec §3): a fixed-size buffer under
// construction from the upstream, tracked by ref-count so it is only
// evicted once no in-flight reader still holds it.
type Block struct {
	mu sync.Mutex

	FileID     string
	Index      int64
	buf        []byte
	refCount   int
	state      BlockState
	err        error
	prefetch   bool
	owningIO   uintptr // identity of the IO that first created this block
}

// NewBlock allocates a pending block of exactly size bytes, owned by
// the IO identified by owner (see File.ownerTag).
func NewBlock(fileID string, idx int64, size int64, prefetch bool, owner uintptr) *Block {
	return &Block{
		FileID:   fileID,
		Index:    idx,
		buf:      make([]byte, size),
		state:    BlockPending,
		prefetch: prefetch,
		owningIO: owner,
	}
}

func (b *Block) Bytes() []byte { return b.buf }

func (b *Block) Hold() {
	b.mu.Lock()
	b.refCount++
	b.mu.Unlock()
}

// Release drops a reference, returning true when the block is both
// ref-count zero and already Written — i.e. evictable per §4.11.
func (b *Block) Release() (evictable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refCount > 0 {
		b.refCount--
	}
	return b.refCount == 0 && b.state == BlockWritten
}

func (b *Block) RefCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refCount
}

func (b *Block) State() BlockState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Block) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Block) OwningIO() uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owningIO
}

// CompleteOk marks the network read that filled buf as successful.
func (b *Block) CompleteOk(n int) {
	b.mu.Lock()
	b.buf = b.buf[:n]
	b.state = BlockOk
	b.mu.Unlock()
}

func (b *Block) CompleteFailed(err error) {
	b.mu.Lock()
	b.state = BlockFailed
	b.err = err
	b.mu.Unlock()
}

// MarkWritten records that buf has been persisted to disk and its bit
// set in Info; only then is the block eligible for eviction.
func (b *Block) MarkWritten() {
	b.mu.Lock()
	b.state = BlockWritten
	b.mu.Unlock()
}

// ResetErrorAndSetIO implements the §4.11 "other-IO retries" transition:
// a different IO than the one that first created a failed block takes
// ownership and resubmits it as pending.
func (b *Block) ResetErrorAndSetIO(owner uintptr) {
	b.mu.Lock()
	b.state = BlockPending
	b.err = nil
	b.owningIO = owner
	b.mu.Unlock()
}
