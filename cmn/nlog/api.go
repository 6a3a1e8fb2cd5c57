// Package nlog - see nlog.go for the buffering/rotation core.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }

// Topic-scoped variants: printed at Info level, gated also by SetMask.
func TInfof(t Topic, format string, args ...any) { log(sevInfo, t, format, args...) }
func TInfoln(t Topic, args ...any)               { log(sevInfo, t, "", args...) }
