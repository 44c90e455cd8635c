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

// Package hashindex provides a secondary, non-unique document index: it
// maps the value of one document attribute to all documents carrying it.
// It is a thin layer over the assoc table, which supplies the repeated
// key handling; documents are borrowed and must stay unchanged while
// indexed.
package hashindex

import (
	"errors"

	"github.com/cantordb/assoc"
)

// Config describes the indexed documents. FieldOf extracts the indexed
// attribute value, IdentityOf a value identifying the document uniquely
// (e.g. its primary key).
type Config[D any] struct {
	// Name labels the index in diagnostic log records.
	Name string
	// FieldOf returns the indexed attribute of a document.
	FieldOf func(doc *D) string
	// IdentityOf returns the unique identity of a document.
	IdentityOf func(doc *D) string
	// Buckets partitions the underlying table; zero means one bucket.
	Buckets int
}

// Index is a non-unique index from one document attribute to documents.
// It is not goroutine-safe; the owning collection serializes mutation.
type Index[D any] struct {
	name  string
	field func(doc *D) string
	table *assoc.Multi[string, D]
}

// New constructs an empty index.
func New[D any](cfg Config[D]) (*Index[D], error) {
	if cfg.FieldOf == nil || cfg.IdentityOf == nil {
		return nil, errors.New("hashindex: FieldOf and IdentityOf must be set")
	}

	hooks := assoc.Hooks[string, D]{
		HashKey: func(k *string) uint64 { return assoc.HashString(*k) },
		HashElement: func(d *D, byKey bool) uint64 {
			if byKey {
				return assoc.HashString(cfg.FieldOf(d))
			}
			return assoc.MixHash(assoc.HashString(cfg.FieldOf(d)), assoc.HashString(cfg.IdentityOf(d)))
		},
		KeyEqualsElement: func(k *string, d *D) bool { return *k == cfg.FieldOf(d) },
		ElementsEqual: func(a, b *D) bool {
			return cfg.IdentityOf(a) == cfg.IdentityOf(b) && cfg.FieldOf(a) == cfg.FieldOf(b)
		},
		ElementsEqualByKey: func(a, b *D) bool { return cfg.FieldOf(a) == cfg.FieldOf(b) },
	}

	buckets := cfg.Buckets
	if buckets <= 0 {
		buckets = 1
	}
	name := cfg.Name
	table, err := assoc.New[string, D](hooks,
		assoc.WithBuckets[string, D](buckets),
		assoc.WithContext[string, D](func() string { return "hash-index " + name }),
	)
	if err != nil {
		return nil, err
	}
	return &Index[D]{name: name, field: cfg.FieldOf, table: table}, nil
}

// Name returns the index name.
func (idx *Index[D]) Name() string { return idx.name }

// Insert adds a document. If a document with the same identity and field
// value is already indexed, the stored handle is returned and the index
// is unchanged.
func (idx *Index[D]) Insert(doc *D) *D {
	return idx.table.Insert(doc, false, true)
}

// Fill bulk-loads documents the caller guarantees to be distinct, e.g.
// when an index is built for an existing collection. It skips all
// duplicate checking.
func (idx *Index[D]) Fill(docs []*D) {
	for _, doc := range docs {
		idx.table.Insert(doc, false, false)
	}
}

// Remove drops a document from the index and returns the stored handle,
// or nil if it was not indexed.
func (idx *Index[D]) Remove(doc *D) *D {
	return idx.table.Remove(doc)
}

// Contains reports whether the document is indexed.
func (idx *Index[D]) Contains(doc *D) bool {
	return idx.table.Lookup(doc) != nil
}

// ByField returns all documents whose indexed attribute equals value, at
// most limit of them (0 means no limit).
func (idx *Index[D]) ByField(value string, limit int) []*D {
	return idx.table.LookupByKey(&value, limit)
}

// ByFieldContinue resumes a ByField scan after doc, the last document of
// a previous page.
func (idx *Index[D]) ByFieldContinue(doc *D, limit int) []*D {
	return idx.table.LookupContinue(doc, limit)
}

// Iterate visits every indexed document until the visitor returns false.
func (idx *Index[D]) Iterate(visit func(doc *D) bool) {
	idx.table.Iterate(visit)
}

// Len returns the number of indexed documents.
func (idx *Index[D]) Len() int { return idx.table.Len() }

// Selectivity estimates how close the indexed attribute is to unique.
func (idx *Index[D]) Selectivity() float64 { return idx.table.Selectivity() }

// MemoryUsage returns the index's slot-array memory in bytes.
func (idx *Index[D]) MemoryUsage() uint64 { return idx.table.MemoryUsage() }

// Resize pre-sizes the index for an expected document count.
func (idx *Index[D]) Resize(expected uint64) error {
	return idx.table.Resize(expected)
}
