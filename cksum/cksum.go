// Package cksum is the checksum manager: a name-keyed registry of
// streaming digest factories plus file-level calc/verify helpers.
// Algorithm implementations themselves (crc32, adler32, md5, sha*) are
// out of scope per the core's purpose statement — only the registry
// and the combine-property contract the cache and copy paths depend
// on live here.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cksum

import (
	"hash"
	"hash/adler32"
	"hash/crc32"
	"io"
	"sync"

	"github.com/pkg/errors"
)

var ErrUnknownAlgorithm = errors.New("xrdcl/cksum: unknown algorithm")

// Accumulator is a streaming digest: Update feeds bytes, Final returns
// the digest of everything fed so far without resetting it, and Reset
// clears the state so the same Accumulator can be reused without
// reallocating.
type Accumulator interface {
	Update(p []byte)
	Final() []byte
	Reset()
	Name() string
}

type hashAccumulator struct {
	name string
	h    hash.Hash
}

func (a *hashAccumulator) Update(p []byte) { a.h.Write(p) }
func (a *hashAccumulator) Final() []byte   { return a.h.Sum(nil) }
func (a *hashAccumulator) Reset()          { a.h.Reset() }
func (a *hashAccumulator) Name() string    { return a.name }

// Factory constructs a fresh Accumulator for one algorithm name.
type Factory func() Accumulator

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"crc32":   func() Accumulator { return &hashAccumulator{name: "crc32", h: crc32.NewIEEE()} },
		"crc32c":  func() Accumulator { return &hashAccumulator{name: "crc32c", h: crc32.New(crc32.MakeTable(crc32.Castagnoli))} },
		"adler32": func() Accumulator { return &hashAccumulator{name: "adler32", h: adler32.New()} },
		// md5/sha1/sha256 are not registered here: their algorithm
		// implementations are a non-goal of this module (see package
		// doc). A caller requesting one gets ErrUnknownAlgorithm, same
		// as any other unregistered name, until the embedding
		// application wires one in via Register.
	}
)

// Register adds or replaces the factory for name, letting an embedding
// application wire in md5/sha implementations without forking this
// package.
func Register(name string, f Factory) {
	registryMu.Lock()
	registry[name] = f
	registryMu.Unlock()
}

func New(name string) (Accumulator, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "%q", name)
	}
	return f(), nil
}

func Registered(name string) bool {
	registryMu.RLock()
	_, ok := registry[name]
	registryMu.RUnlock()
	return ok
}

// CalcFile streams r through algorithm name and returns the final
// digest, the file-level calc/verify/store contract named in §2's
// component table.
func CalcFile(r io.Reader, name string) ([]byte, error) {
	acc, err := New(name)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 256*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			acc.Update(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return acc.Final(), nil
}

// VerifyFile recomputes r's digest under name and compares it against
// want, returning ErrChecksumMismatch on disagreement.
var ErrChecksumMismatch = errors.New("xrdcl/cksum: checksum mismatch")

func VerifyFile(r io.Reader, name string, want []byte) error {
	got, err := CalcFile(r, name)
	if err != nil {
		return err
	}
	if len(got) != len(want) {
		return ErrChecksumMismatch
	}
	for i := range got {
		if got[i] != want[i] {
			return ErrChecksumMismatch
		}
	}
	return nil
}
