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

package memory

import "sync/atomic"

// CheckedAllocator wraps an Allocator and tracks the number of live bytes.
// Tests use it to assert that a Builder hands back every buffer it replaces.
type CheckedAllocator struct {
	mem  Allocator
	live int64
	n    int64
}

func NewCheckedAllocator(mem Allocator) *CheckedAllocator {
	return &CheckedAllocator{mem: mem}
}

func (a *CheckedAllocator) Allocate(size int) []byte {
	atomic.AddInt64(&a.live, int64(size))
	atomic.AddInt64(&a.n, 1)
	return a.mem.Allocate(size)
}

func (a *CheckedAllocator) Reallocate(size int, b []byte) []byte {
	atomic.AddInt64(&a.live, int64(size-len(b)))
	return a.mem.Reallocate(size, b)
}

func (a *CheckedAllocator) Free(b []byte) {
	atomic.AddInt64(&a.live, -int64(len(b)))
	a.mem.Free(b)
}

// CurrentAlloc returns the number of bytes allocated and not yet freed.
func (a *CheckedAllocator) CurrentAlloc() int { return int(atomic.LoadInt64(&a.live)) }

// Allocations returns how many times Allocate was called.
func (a *CheckedAllocator) Allocations() int { return int(atomic.LoadInt64(&a.n)) }

var (
	_ Allocator = (*CheckedAllocator)(nil)
)
