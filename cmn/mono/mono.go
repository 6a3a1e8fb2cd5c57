//go:build !mono

// Package mono provides monotonic time for deadline and TTL arithmetic
// across the stream, task, and cache subsystems.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a monotonic nanosecond clock reading. Unlike time.Now().
// UnixNano() it never jumps on wall-clock adjustment; callers only ever
// subtract two readings, never interpret the absolute value.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

// Since is a convenience wrapper over a NanoTime() reading taken earlier.
func Since(nanos int64) time.Duration { return time.Duration(NanoTime() - nanos) }
