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

package querycache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func storeQuery(c *Cache, database, query string, result any, collections ...string) *Entry {
	return c.Store(database, HashQuery(query), query, result, collections)
}

func lookupQuery(c *Cache, database, query string) *Entry {
	return c.Lookup(database, HashQuery(query), query)
}

func TestLookupStore(t *testing.T) {
	c := New(nil)
	db := uuid.NewString()

	require.Nil(t, lookupQuery(c, db, "FOR d IN docs RETURN d"))

	want := []string{"a", "b", "c"}
	storeQuery(c, db, "FOR d IN docs RETURN d", want, "docs")

	e := lookupQuery(c, db, "FOR d IN docs RETURN d")
	require.NotNil(t, e)
	require.Empty(t, cmp.Diff(want, e.Result))
	require.Empty(t, cmp.Diff([]string{"docs"}, e.Collections))
	e.Release()

	// Other databases are unaffected.
	require.Nil(t, lookupQuery(c, uuid.NewString(), "FOR d IN docs RETURN d"))
}

func TestLookupVerifiesQueryString(t *testing.T) {
	c := New(nil)
	db := uuid.NewString()

	// Same hash, different query string: the entry must not be served.
	hash := HashQuery("RETURN 1")
	c.Store(db, hash, "RETURN 1", 1, nil)
	require.Nil(t, c.Lookup(db, hash, "RETURN 2"))

	e := c.Lookup(db, hash, "RETURN 1")
	require.NotNil(t, e)
	e.Release()
}

func TestStoreReplacesSameHash(t *testing.T) {
	var released atomic.Int32
	c := New(func(*Entry) { released.Add(1) })
	db := uuid.NewString()

	storeQuery(c, db, "RETURN 1", "old")
	storeQuery(c, db, "RETURN 1", "new")

	require.EqualValues(t, 1, released.Load())
	e := lookupQuery(c, db, "RETURN 1")
	require.NotNil(t, e)
	require.Equal(t, "new", e.Result)
	e.Release()
}

func TestLRUEviction(t *testing.T) {
	var released atomic.Int32
	c := New(func(*Entry) { released.Add(1) })
	c.SetProperties(c.Mode(), 3)
	db := uuid.NewString()

	for i := 0; i < 4; i++ {
		storeQuery(c, db, fmt.Sprintf("RETURN %d", i), i)
	}

	// The oldest entry was evicted from the head of the list.
	require.EqualValues(t, 1, released.Load())
	require.Nil(t, lookupQuery(c, db, "RETURN 0"))
	for i := 1; i < 4; i++ {
		e := lookupQuery(c, db, fmt.Sprintf("RETURN %d", i))
		require.NotNil(t, e, "entry %d", i)
		e.Release()
	}

	// Lowering the limit trims existing caches.
	c.SetProperties(c.Mode(), 1)
	require.EqualValues(t, 3, released.Load())
	e := lookupQuery(c, db, "RETURN 3")
	require.NotNil(t, e)
	e.Release()
}

func TestInvalidateCollection(t *testing.T) {
	c := New(nil)
	db := uuid.NewString()

	storeQuery(c, db, "q1", 1, "users", "orders")
	storeQuery(c, db, "q2", 2, "orders")
	storeQuery(c, db, "q3", 3, "items")

	c.InvalidateCollection(db, "orders")

	require.Nil(t, lookupQuery(c, db, "q1"))
	require.Nil(t, lookupQuery(c, db, "q2"))
	e := lookupQuery(c, db, "q3")
	require.NotNil(t, e)
	e.Release()

	// Unknown collections are a no-op.
	c.InvalidateCollections(db, []string{"nope"})
}

func TestInvalidateDatabase(t *testing.T) {
	var released atomic.Int32
	c := New(func(*Entry) { released.Add(1) })
	db1, db2 := uuid.NewString(), uuid.NewString()

	storeQuery(c, db1, "q1", 1, "users")
	storeQuery(c, db2, "q2", 2, "users")

	c.InvalidateDatabase(db1)
	require.EqualValues(t, 1, released.Load())
	require.Nil(t, lookupQuery(c, db1, "q1"))
	e := lookupQuery(c, db2, "q2")
	require.NotNil(t, e)
	e.Release()
}

func TestDeferredFinalize(t *testing.T) {
	var released atomic.Int32
	c := New(func(*Entry) { released.Add(1) })
	db := uuid.NewString()

	storeQuery(c, db, "q1", 1, "users")
	e := lookupQuery(c, db, "q1")
	require.NotNil(t, e)

	// The entry is pinned: invalidation retires it but must not finalize
	// it under the reader.
	c.InvalidateCollection(db, "users")
	require.EqualValues(t, 0, released.Load())

	e.Release()
	require.EqualValues(t, 1, released.Load())

	// Releasing again after finalization must not double-finalize.
	e.Use()
	e.Release()
	require.EqualValues(t, 1, released.Load())
}

func TestModeChangeInvalidates(t *testing.T) {
	var released atomic.Int32
	c := New(func(*Entry) { released.Add(1) })
	db := uuid.NewString()

	require.Equal(t, ModeOnDemand, c.Mode())
	require.True(t, c.MayBeActive())

	storeQuery(c, db, "q1", 1)
	c.SetMode(ModeOff)

	require.EqualValues(t, 1, released.Load())
	require.False(t, c.MayBeActive())
	require.Nil(t, lookupQuery(c, db, "q1"))

	// No change, no invalidation.
	c.SetMode(ModeOff)
	require.EqualValues(t, 1, released.Load())

	c.SetMode(ModeAlwaysOn)
	mode, maxResults := c.Properties()
	require.Equal(t, ModeAlwaysOn, mode)
	require.Equal(t, defaultMaxResults, maxResults)
}

func TestModeStrings(t *testing.T) {
	for _, mode := range []Mode{ModeOff, ModeOnDemand, ModeAlwaysOn} {
		require.Equal(t, mode, ParseMode(mode.String()))
	}
	require.Equal(t, ModeOff, ParseMode("garbage"))
}

func TestConcurrentReaders(t *testing.T) {
	c := New(nil)

	const databases = 16
	dbs := make([]string, databases)
	for i := range dbs {
		dbs[i] = uuid.NewString()
		storeQuery(c, dbs[i], "q", i, "users")
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				db := dbs[(g+i)%databases]
				if e := lookupQuery(c, db, "q"); e != nil {
					e.Release()
				}
				if i%100 == 0 {
					storeQuery(c, db, fmt.Sprintf("q%d-%d", g, i), i, "users")
				}
			}
		}(g)
	}
	wg.Wait()

	for _, db := range dbs {
		c.InvalidateCollection(db, "users")
		require.Nil(t, lookupQuery(c, db, "q"))
	}
}

func TestInstance(t *testing.T) {
	Shutdown()
	c := Instance()
	require.Same(t, c, Instance())

	db := uuid.NewString()
	storeQuery(c, db, "q", 42)

	Shutdown()
	require.NotSame(t, c, Instance())
	require.Nil(t, lookupQuery(Instance(), db, "q"))
	Shutdown()
}
