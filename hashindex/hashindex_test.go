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

package hashindex

import (
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type document struct {
	key  string
	city string
}

func newIndex(t *testing.T, buckets int) *Index[document] {
	t.Helper()
	idx, err := New(Config[document]{
		Name:       "city",
		FieldOf:    func(d *document) string { return d.city },
		IdentityOf: func(d *document) string { return d.key },
		Buckets:    buckets,
	})
	require.NoError(t, err)
	return idx
}

func keys(docs []*document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.key)
	}
	sort.Strings(out)
	return out
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config[document]{FieldOf: func(d *document) string { return d.city }})
	require.Error(t, err)
}

func TestInsertAndByField(t *testing.T) {
	idx := newIndex(t, 1)

	cities := []string{"cologne", "berlin", "cologne", "hamburg", "cologne"}
	docs := make([]*document, len(cities))
	byCity := make(map[string][]string)
	for i, city := range cities {
		docs[i] = &document{key: uuid.NewString(), city: city}
		require.Nil(t, idx.Insert(docs[i]))
		byCity[city] = append(byCity[city], docs[i].key)
	}
	require.Equal(t, len(docs), idx.Len())

	for city, want := range byCity {
		got := keys(idx.ByField(city, 0))
		sort.Strings(want)
		require.Empty(t, cmp.Diff(want, got))
	}
	require.Empty(t, idx.ByField("munich", 0))

	// Re-inserting an indexed document returns the stored handle.
	require.Same(t, docs[0], idx.Insert(&document{key: docs[0].key, city: docs[0].city}))
	require.Equal(t, len(docs), idx.Len())
}

func TestRemove(t *testing.T) {
	idx := newIndex(t, 1)

	d1 := &document{key: uuid.NewString(), city: "cologne"}
	d2 := &document{key: uuid.NewString(), city: "cologne"}
	idx.Fill([]*document{d1, d2})

	require.Same(t, d1, idx.Remove(d1))
	require.Nil(t, idx.Remove(d1))
	require.False(t, idx.Contains(d1))
	require.True(t, idx.Contains(d2))
	require.Equal(t, []string{d2.key}, keys(idx.ByField("cologne", 0)))

	require.Same(t, d2, idx.Remove(d2))
	require.Empty(t, idx.ByField("cologne", 0))
	require.Equal(t, 0, idx.Len())
}

func TestFill(t *testing.T) {
	idx := newIndex(t, 4)

	const count = 1000
	docs := make([]*document, count)
	byCity := make(map[string][]string)
	for i := range docs {
		city := fmt.Sprintf("city-%d", i%25)
		docs[i] = &document{key: uuid.NewString(), city: city}
		byCity[city] = append(byCity[city], docs[i].key)
	}
	idx.Fill(docs)

	require.Equal(t, count, idx.Len())
	for city, want := range byCity {
		sort.Strings(want)
		require.Empty(t, cmp.Diff(want, keys(idx.ByField(city, 0))))
	}
	for _, d := range docs {
		require.True(t, idx.Contains(d))
	}
}

func TestPagedScan(t *testing.T) {
	idx := newIndex(t, 1)

	docs := make([]*document, 10)
	for i := range docs {
		docs[i] = &document{key: fmt.Sprintf("doc-%02d", i), city: "cologne"}
		idx.Insert(docs[i])
	}

	all := idx.ByField("cologne", 0)
	require.Len(t, all, 10)

	var paged []*document
	page := idx.ByField("cologne", 3)
	paged = append(paged, page...)
	for len(page) > 0 {
		page = idx.ByFieldContinue(page[len(page)-1], 3)
		paged = append(paged, page...)
	}
	require.Empty(t, cmp.Diff(keys(all), keys(paged)))
}

func TestSelectivity(t *testing.T) {
	idx := newIndex(t, 1)
	require.Equal(t, 1.0, idx.Selectivity())

	// Four distinct cities, one duplicate pair.
	for i, city := range []string{"a", "b", "c", "d", "d"} {
		idx.Insert(&document{key: fmt.Sprintf("k%d", i), city: city})
	}
	require.InDelta(t, 0.8, idx.Selectivity(), 1e-9)
}

func TestResize(t *testing.T) {
	idx := newIndex(t, 2)

	docs := make([]*document, 100)
	for i := range docs {
		docs[i] = &document{key: uuid.NewString(), city: fmt.Sprintf("city-%d", i%10)}
	}
	idx.Fill(docs)

	before := idx.MemoryUsage()
	require.NoError(t, idx.Resize(10_000))
	require.Greater(t, idx.MemoryUsage(), before)
	for _, d := range docs {
		require.True(t, idx.Contains(d))
	}

	require.Error(t, idx.Resize(1))
}

func TestIterate(t *testing.T) {
	idx := newIndex(t, 2)
	seen := make(map[string]bool)
	for i := 0; i < 40; i++ {
		idx.Insert(&document{key: fmt.Sprintf("doc-%d", i), city: fmt.Sprintf("city-%d", i%4)})
	}
	idx.Iterate(func(d *document) bool {
		require.False(t, seen[d.key])
		seen[d.key] = true
		return true
	})
	require.Len(t, seen, 40)
}
