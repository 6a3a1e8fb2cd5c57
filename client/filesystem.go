/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package client

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xrootd-go/xrdcl/msghandler"
	"github.com/xrootd-go/xrdcl/postmaster"
	"github.com/xrootd-go/xrdcl/wire"
)

var js = jsoniter.ConfigFastest

// FileSystem is the stateless, per-endpoint counterpart to File:
// metadata and namespace operations that don't need an open file
// handle (spec §4.10, the CLI-facing half without the CLI itself,
// which §6's xrdfs/xrdcp shells explicitly exclude).
type FileSystem struct {
	t    transport
	url  wire.URL
	opts FileOpts
}

func NewFileSystem(rawURL string, opts FileOpts) (*FileSystem, error) {
	u, err := wire.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	t := transport{pm: opts.Transport}
	if t.pm == nil {
		t.pm = postmaster.Default
	}
	return &FileSystem{t: t, url: u, opts: opts}, nil
}

func (fs *FileSystem) deadline(timeout time.Duration) time.Time {
	if timeout > 0 {
		return deadlineFrom(timeout)
	}
	return deadlineFrom(fs.opts.DefaultTimeout)
}

func (fs *FileSystem) msgOpts() msghandler.Opts {
	return msghandler.Opts{MaxRedirects: fs.opts.MaxRedirects}
}

func (fs *FileSystem) withPath(path string) wire.URL {
	u := fs.url
	u.Path = path
	return u
}

func (fs *FileSystem) Stat(path string, timeout time.Duration) (wire.StatInfo, error) {
	body := wire.LocateBody{Path: path}.Marshal()
	req := buildRequest([16]byte{}, body)
	resp, err := fs.t.submitSync(fs.withPath(path), req, wire.OpStat, fs.deadline(timeout), fs.msgOpts())
	if err != nil {
		return wire.StatInfo{}, err
	}
	return wire.UnmarshalStatInfo(resp.Body)
}

// StatJSON renders a Stat result as indented JSON, the debug-dump
// counterpart CLI-adjacent tooling reaches for instead of the raw
// struct (§2's json-iterator wiring).
func (fs *FileSystem) StatJSON(path string, timeout time.Duration) ([]byte, error) {
	info, err := fs.Stat(path, timeout)
	if err != nil {
		return nil, err
	}
	return js.MarshalIndent(info, "", "  ")
}

func (fs *FileSystem) DirList(path string, timeout time.Duration) ([]wire.DirEntry, error) {
	body := wire.LocateBody{Path: path}.Marshal()
	req := buildRequest([16]byte{}, body)
	resp, err := fs.t.submitSync(fs.withPath(path), req, wire.OpDirList, fs.deadline(timeout), fs.msgOpts())
	if err != nil {
		return nil, err
	}
	return wire.UnmarshalDirList(resp.Body), nil
}

func (fs *FileSystem) Locate(path string, opts uint16, timeout time.Duration) (Response, error) {
	body := wire.LocateBody{Options: opts, Path: path}.Marshal()
	req := buildRequest([16]byte{}, body)
	return fs.t.submitSync(fs.withPath(path), req, wire.OpLocate, fs.deadline(timeout), fs.msgOpts())
}

func (fs *FileSystem) Mv(from, to string, timeout time.Duration) error {
	body := wire.MvBody{From: from, To: to}.Marshal()
	req := buildRequest([16]byte{}, body)
	_, err := fs.t.submitSync(fs.withPath(from), req, wire.OpMv, fs.deadline(timeout), fs.msgOpts())
	return err
}

func (fs *FileSystem) Mkdir(path string, timeout time.Duration) error {
	return fs.pathOnlyOp(path, wire.OpMkdir, timeout)
}

func (fs *FileSystem) Rmdir(path string, timeout time.Duration) error {
	return fs.pathOnlyOp(path, wire.OpRmdir, timeout)
}

func (fs *FileSystem) Rm(path string, timeout time.Duration) error {
	return fs.pathOnlyOp(path, wire.OpRm, timeout)
}

func (fs *FileSystem) pathOnlyOp(path string, op wire.Opcode, timeout time.Duration) error {
	req := buildRequest([16]byte{}, []byte(path))
	_, err := fs.t.submitSync(fs.withPath(path), req, op, fs.deadline(timeout), fs.msgOpts())
	return err
}

func (fs *FileSystem) Chmod(path string, mode uint16, timeout time.Duration) error {
	body := make([]byte, 2+len(path))
	body[0] = byte(mode >> 8)
	body[1] = byte(mode)
	copy(body[2:], path)
	req := buildRequest([16]byte{}, body)
	_, err := fs.t.submitSync(fs.withPath(path), req, wire.OpChmod, fs.deadline(timeout), fs.msgOpts())
	return err
}

// Query issues a kXR_query-equivalent control/info request and
// returns its raw Response, mirroring the `query` CLI command without
// the shell around it; QueryJSON renders the same reply as JSON.
func (fs *FileSystem) Query(infoType uint16, arg []byte, timeout time.Duration) (Response, error) {
	body := wire.QueryBody{InfoType: infoType, Arg: arg}.Marshal()
	req := buildRequest([16]byte{}, body)
	return fs.t.submitSync(fs.url, req, wire.OpQuery, fs.deadline(timeout), fs.msgOpts())
}

func (fs *FileSystem) QueryJSON(infoType uint16, arg []byte, timeout time.Duration) ([]byte, error) {
	resp, err := fs.Query(infoType, arg, timeout)
	if err != nil {
		return nil, err
	}
	return js.MarshalIndent(struct {
		Body  string   `json:"body"`
		Hosts []string `json:"hosts"`
	}{Body: string(resp.Body), Hosts: resp.Hosts}, "", "  ")
}

// Ping round-trips a ping request, used to validate a channel is
// alive without touching any namespace state.
func (fs *FileSystem) Ping(timeout time.Duration) error {
	req := buildRequest([16]byte{}, nil)
	_, err := fs.t.submitSync(fs.url, req, wire.OpPing, fs.deadline(timeout), fs.msgOpts())
	return err
}
