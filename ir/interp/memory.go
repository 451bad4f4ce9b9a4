// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package interp

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ajroetker/go-mux/ir"
	"github.com/pkg/errors"
)

// Object is a block of memory: global buffers, stack allocations and
// execution-state structs are all objects. Integer data lives in a byte
// slice; pointers stored into an object are kept in a side table keyed by
// offset, so they survive round trips through memory.
//
// Objects are safe for concurrent use. Every access takes the object lock,
// which orders accesses from work-items running on different goroutines.
type Object struct {
	Name string

	mu   sync.Mutex
	data []byte
	ptrs map[uint64]Pointer
}

// MaxObjectSize bounds the size of a single object.
const MaxObjectSize = 1 << 32

// ErrObjectTooLarge is returned for allocations above MaxObjectSize.
var ErrObjectTooLarge = errors.New("object too large")

// NewObject allocates a zeroed object of size bytes. It panics if size
// exceeds MaxObjectSize; use AllocObject for sizes that are not known to
// be small.
func NewObject(name string, size uint64) *Object {
	o, err := AllocObject(name, size)
	if err != nil {
		panic(err)
	}
	return o
}

// AllocObject allocates a zeroed object of size bytes, failing with
// ErrObjectTooLarge rather than exhausting the host.
func AllocObject(name string, size uint64) (*Object, error) {
	if size > MaxObjectSize {
		return nil, errors.Wrapf(ErrObjectTooLarge, "%q: %d bytes, limit %d", name, size, uint64(MaxObjectSize))
	}
	return &Object{Name: name, data: make([]byte, size)}, nil
}

// Size returns the object size in bytes.
func (o *Object) Size() uint64 { return uint64(len(o.data)) }

func (o *Object) check(off, size uint64) error {
	if off+size > uint64(len(o.data)) || off+size < off {
		return errors.Errorf("access of %d bytes at offset %d out of bounds of %q (size %d)", size, off, o.Name, len(o.data))
	}
	return nil
}

// ReadUint reads a little-endian integer of size bytes (1, 2, 4 or 8).
func (o *Object) ReadUint(off, size uint64) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.check(off, size); err != nil {
		return 0, err
	}
	b := o.data[off : off+size]
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, errors.Errorf("unsupported integer size %d", size)
}

// WriteUint writes v as a little-endian integer of size bytes, replacing any
// pointer stored at off.
func (o *Object) WriteUint(off, size, v uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.check(off, size); err != nil {
		return err
	}
	b := o.data[off : off+size]
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		return errors.Errorf("unsupported integer size %d", size)
	}
	delete(o.ptrs, off)
	return nil
}

// ReadPointer returns the pointer stored at off, or the null pointer.
func (o *Object) ReadPointer(off uint64) (Pointer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.check(off, 1); err != nil {
		return Pointer{}, err
	}
	return o.ptrs[off], nil
}

// WritePointer stores p at off.
func (o *Object) WritePointer(off uint64, p Pointer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.check(off, 1); err != nil {
		return err
	}
	if o.ptrs == nil {
		o.ptrs = make(map[uint64]Pointer)
	}
	o.ptrs[off] = p
	return nil
}

// Bytes returns a copy of the integer contents.
func (o *Object) Bytes() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]byte(nil), o.data...)
}

// SetBytes copies b into the object starting at offset 0.
func (o *Object) SetBytes(b []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.check(0, uint64(len(b))); err != nil {
		return err
	}
	copy(o.data, b)
	return nil
}

// Pointer addresses a byte of an object, or names a function. The zero
// Pointer is null.
type Pointer struct {
	Obj *Object
	Off uint64
	Fn  *ir.Func
}

// IsNull reports whether p is the null pointer.
func (p Pointer) IsNull() bool { return p.Obj == nil && p.Fn == nil }

// Add returns p displaced by delta bytes.
func (p Pointer) Add(delta uint64) Pointer {
	p.Off += delta
	return p
}

func (p Pointer) String() string {
	switch {
	case p.Fn != nil:
		return "@" + p.Fn.Name
	case p.Obj == nil:
		return "null"
	default:
		return fmt.Sprintf("%s+%d", p.Obj.Name, p.Off)
	}
}

// Value is a runtime value: an integer (Bits, truncated to its type width)
// or a pointer.
type Value struct {
	Bits uint64
	Ptr  Pointer
}

// Int returns an integer value.
func Int(v uint64) Value { return Value{Bits: v} }

// Ptr returns a pointer value.
func Ptr(p Pointer) Value { return Value{Ptr: p} }

func (v Value) bool() bool { return v.Bits&1 != 0 }
