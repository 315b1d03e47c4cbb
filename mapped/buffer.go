// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mapped supplies verified table buffers backed by read-only file
// mappings, and keeps each mapping alive while views into it are in use.
package mapped

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/blastbao/gomem/flatbuffers"
	"github.com/blastbao/gomem/record"
	"github.com/blastbao/gomem/schema"
)

var (
	ErrEmpty    = xerrors.New("mapped: empty buffer")
	ErrTooLarge = xerrors.New("mapped: buffer exceeds the 2 GiB format limit")
	ErrReleased = xerrors.New("mapped: buffer used after release")
)

// Buffer is a verified table buffer with a reference count.
//
// Open and FromBytes return a Buffer holding one reference. Every holder
// of a view obtained from Root or Bytes must hold a reference for as long
// as it uses the view; the mapping is unmapped when the last reference is
// released.
//
// Buffer 的生命周期由引用计数管理：Retain 加 1 ，Release 减 1 ，减到 0 时解除映射。
type Buffer struct {
	refCount atomic.Int64
	data     []byte
	unmap    func() error // nil for buffers not backed by a mapping
	schema   *schema.Schema
	name     string
	sugar    *zap.SugaredLogger
}

// Open maps the file at path read-only and verifies it against s.
func Open(path string, s *schema.Schema, opts ...Option) (*Buffer, error) {
	o := newOptions(opts)

	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("mapped: %w", err)
	}
	// The mapping stays valid after the file is closed.
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, xerrors.Errorf("mapped: %w", err)
	}
	switch {
	case fi.Size() == 0:
		return nil, xerrors.Errorf("%s: %w", path, ErrEmpty)
	case fi.Size() > flatbuffers.MaxBufferSize:
		return nil, xerrors.Errorf("%s: %w", path, ErrTooLarge)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, xerrors.Errorf("mapped: map %s: %w", path, err)
	}
	b := newBuffer(m, m.Unmap, s, path, o)
	if err := b.verify(o); err != nil {
		if uerr := m.Unmap(); uerr != nil {
			b.sugar.Warnw("unmap failed", "path", path, "error", uerr)
		}
		return nil, err
	}
	b.sugar.Debugw("mapped", "path", path, "size", len(m))
	return b, nil
}

// FromBytes verifies data against s and wraps it without copying. The
// caller must not modify data afterwards.
func FromBytes(data []byte, s *schema.Schema, opts ...Option) (*Buffer, error) {
	o := newOptions(opts)
	switch {
	case len(data) == 0:
		return nil, ErrEmpty
	case len(data) > flatbuffers.MaxBufferSize:
		return nil, ErrTooLarge
	}
	b := newBuffer(data, nil, s, "bytes", o)
	if err := b.verify(o); err != nil {
		return nil, err
	}
	return b, nil
}

func newBuffer(data []byte, unmap func() error, s *schema.Schema, name string, o *options) *Buffer {
	b := &Buffer{
		data:   data,
		unmap:  unmap,
		schema: s,
		name:   name,
		sugar:  o.logger.Sugar(),
	}
	b.refCount.Store(1)
	return b
}

func (b *Buffer) verify(o *options) error {
	var err error
	if o.cache != nil {
		err = o.cache.Verify(b.data)
	} else {
		vopts := append([]record.Option{record.WithLogger(o.logger)}, o.verify...)
		err = record.Verify(b.data, b.schema, vopts...)
	}
	if err != nil {
		b.sugar.Warnw("rejected buffer", "source", b.name, "size", len(b.data), "error", err)
		return xerrors.Errorf("mapped: %s: %w", b.name, err)
	}
	return nil
}

// Retain increases the reference count by 1.
// Retain may be called simultaneously from multiple goroutines.
func (b *Buffer) Retain() {
	if b.refCount.Inc() <= 1 {
		panic(ErrReleased)
	}
}

// Release decreases the reference count by 1.
// When the reference count goes to zero, the mapping is released.
// Release may be called simultaneously from multiple goroutines.
func (b *Buffer) Release() {
	n := b.refCount.Dec()
	if n < 0 {
		panic("mapped: too many releases")
	}
	if n > 0 {
		return
	}
	if b.unmap != nil {
		if err := b.unmap(); err != nil {
			b.sugar.Warnw("unmap failed", "source", b.name, "error", err)
		} else {
			b.sugar.Debugw("unmapped", "source", b.name)
		}
	}
	b.data = nil
}

// RefCount returns the current number of references.
func (b *Buffer) RefCount() int64 { return b.refCount.Load() }

// Bytes returns the verified buffer. The slice is valid while the caller
// holds a reference.
func (b *Buffer) Bytes() []byte {
	b.mustBeLive()
	return b.data
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int { return len(b.Bytes()) }

// Schema returns the schema the buffer was verified against.
func (b *Buffer) Schema() *schema.Schema { return b.schema }

// Root returns a view of the root table. It is valid while the caller
// holds a reference.
func (b *Buffer) Root() record.TableView {
	return record.Root(b.Bytes(), b.schema)
}

func (b *Buffer) mustBeLive() {
	if b.refCount.Load() <= 0 {
		panic(ErrReleased)
	}
}
