// Copyright 2024 The Cantor Authors
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

package assoc

import "log/slog"

// option provides an interface to do work on a Multi while it is being
// created.
type option[K any, E any] interface {
	apply(m *Multi[K, E])
}

type bucketsOption[K any, E any] struct {
	n int
}

func (op bucketsOption[K, E]) apply(m *Multi[K, E]) {
	m.nbuckets = op.n
}

// WithBuckets is an option to set the number of buckets the table is
// partitioned into, rounded up to a power of two. More buckets shard the
// table's work and bound the cost of a single growth step.
func WithBuckets[K any, E any](n int) option[K, E] {
	return bucketsOption[K, E]{n}
}

type capacityOption[K any, E any] struct {
	n uint32
}

func (op capacityOption[K, E]) apply(m *Multi[K, E]) {
	m.initialCapacity = op.n
}

// WithInitialCapacity is an option to set the number of slots each
// bucket starts out with. Values below the internal minimum are raised
// to it.
func WithInitialCapacity[K any, E any](n uint32) option[K, E] {
	return capacityOption[K, E]{n}
}

type contextOption[K any, E any] struct {
	context func() string
}

func (op contextOption[K, E]) apply(m *Multi[K, E]) {
	m.context = op.context
}

// WithContext is an option to set the context-label producer. The label
// only appears in diagnostic log records emitted on resize, typically
// naming the index the table serves.
func WithContext[K any, E any](context func() string) option[K, E] {
	return contextOption[K, E]{context}
}

type loggerOption[K any, E any] struct {
	logger *slog.Logger
}

func (op loggerOption[K, E]) apply(m *Multi[K, E]) {
	m.logger = op.logger
}

// WithLogger is an option to set the logger for diagnostic records.
// Defaults to slog.Default.
func WithLogger[K any, E any](logger *slog.Logger) option[K, E] {
	return loggerOption[K, E]{logger}
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays used by a Multi. The default allocator utilizes Go's builtin
// make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slot
// arrays be freed then Multi.Close must be called in order to ensure
// FreeSlots is called for every live array.
type Allocator[E any] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[E], n),
	// or an error if the allocation cannot be satisfied.
	AllocSlots(n int) ([]Slot[E], error)

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocSlots.
	FreeSlots(v []Slot[E])
}

type defaultAllocator[E any] struct{}

func (defaultAllocator[E]) AllocSlots(n int) ([]Slot[E], error) {
	return make([]Slot[E], n), nil
}

func (defaultAllocator[E]) FreeSlots(v []Slot[E]) {
}

type allocatorOption[K any, E any] struct {
	allocator Allocator[E]
}

func (op allocatorOption[K, E]) apply(m *Multi[K, E]) {
	m.allocator = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for the
// table's slot arrays.
func WithAllocator[K any, E any](allocator Allocator[E]) option[K, E] {
	return allocatorOption[K, E]{allocator}
}

// Op identifies a table operation for telemetry purposes.
type Op uint8

const (
	OpInsert Op = iota
	OpLookup
	OpRemove
	OpResize
)

// Telemetry receives one event per insert, lookup, key scan, and removal,
// and one per bucket rebuilt by growth or Resize. Iterate and the size
// accessors emit no events. Implementations must be cheap; the default
// sink discards everything.
type Telemetry interface {
	Event(op Op)
}

type nopTelemetry struct{}

func (nopTelemetry) Event(Op) {}

type telemetryOption[K any, E any] struct {
	telemetry Telemetry
}

func (op telemetryOption[K, E]) apply(m *Multi[K, E]) {
	m.telemetry = op.telemetry
}

// WithTelemetry is an option to install a telemetry sink for operation
// counters.
func WithTelemetry[K any, E any](t Telemetry) option[K, E] {
	return telemetryOption[K, E]{t}
}
