// Package fname contains filename constants for the on-disk cache layout.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package fname

const (
	// CinfoSuffix names the sidecar file next to every cached data file:
	// "<path>" holds the data, "<path>.cinfo" holds the Info (§4.10/§3).
	CinfoSuffix = ".cinfo"

	// IOFileBlockSep separates the original upstream path from the
	// block-size/offset pair in an IOFileBlock on-disk name, per §6:
	// "<origpath>___<bsize>_<offset>".
	IOFileBlockSep = "___"

	// PurgeLockFile is an advisory lock taken for the duration of one
	// purge sweep so that two processes never race a purge of the same
	// cache tree.
	PurgeLockFile = ".purge.lock"
)
