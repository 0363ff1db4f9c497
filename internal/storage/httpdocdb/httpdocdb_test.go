package httpdocdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elementstore/core/internal/storage"
)

// fakeServer is a minimal CouchDB-style document store exercising exactly
// the surface httpdocdb.Backend drives: PUT db, PUT/GET/HEAD/DELETE doc,
// _all_docs, and _find.
type fakeServer struct {
	mu   sync.Mutex
	dbs  map[string]bool
	docs map[string]map[string]map[string]any // db -> id -> doc (includes _id/_rev)
	revs map[string]map[string]int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		dbs:  map[string]bool{},
		docs: map[string]map[string]map[string]any{},
		revs: map[string]map[string]int{},
	}
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	parts := strings.SplitN(path, "/", 2)
	db := parts[0]

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			if f.dbs[db] {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			f.dbs[db] = true
			f.docs[db] = map[string]map[string]any{}
			f.revs[db] = map[string]int{}
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			delete(f.dbs, db)
			delete(f.docs, db)
			w.WriteHeader(http.StatusOK)
		}
		return
	}

	rest := parts[1]
	if rest == "_all_docs" || strings.HasPrefix(rest, "_all_docs?") {
		rows := make([]map[string]any, 0)
		for _, doc := range f.docs[db] {
			rows = append(rows, map[string]any{"doc": doc})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"rows": rows})
		return
	}
	if rest == "_find" {
		var body struct {
			Selector map[string]any `json:"selector"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		var matched []map[string]any
		for _, doc := range f.docs[db] {
			ok := true
			for k, v := range body.Selector {
				if fmt.Sprint(doc[k]) != fmt.Sprint(v) {
					ok = false
					break
				}
			}
			if ok {
				matched = append(matched, doc)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"docs": matched})
		return
	}

	id := rest
	switch r.Method {
	case http.MethodHead:
		doc, ok := f.docs[db][id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"`+fmt.Sprint(doc["_rev"])+`"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		doc, ok := f.docs[db][id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	case http.MethodPut:
		var incoming map[string]any
		json.NewDecoder(r.Body).Decode(&incoming)
		f.revs[db][id]++
		newRev := strconv.Itoa(f.revs[db][id])
		incoming["_id"] = id
		incoming["_rev"] = newRev
		f.docs[db][id] = incoming
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": id, "rev": newRev})
	case http.MethodDelete:
		if _, ok := f.docs[db][id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.docs[db], id)
		w.WriteHeader(http.StatusOK)
	}
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	fake := newFakeServer()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL})
}

func TestSet_ThenGet_RoundTrips(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	stored, err := b.Set(ctx, "widget", map[string]any{"id": "1", "label": "Gadget"})
	require.NoError(t, err)
	assert.Equal(t, "1", stored["id"])
	assert.Equal(t, "Gadget", stored["label"])
	assert.NotNil(t, stored["created_at"])

	raw, err := b.Get(ctx, "widget", strPtr("1"))
	require.NoError(t, err)
	rec, ok := raw.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Gadget", rec["label"])
}

func TestGet_MissingReturnsNil(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	out, err := b.Get(ctx, "widget", strPtr("missing"))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSet_UpdateCarriesForwardRevision(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Set(ctx, "widget", map[string]any{"id": "1", "label": "Gadget"})
	require.NoError(t, err)

	updated, err := b.Set(ctx, "widget", map[string]any{"id": "1", "label": "Gadget v2"})
	require.NoError(t, err)
	assert.Equal(t, "Gadget v2", updated["label"])
}

func TestDelete_RemovesDocument(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Set(ctx, "widget", map[string]any{"id": "1", "label": "Gadget"})
	require.NoError(t, err)

	existed, err := b.Delete(ctx, "widget", "1")
	require.NoError(t, err)
	assert.True(t, existed)

	out, err := b.Get(ctx, "widget", strPtr("1"))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDelete_MissingReturnsFalse(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	existed, err := b.Delete(ctx, "widget", "missing")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestQuery_FiltersByNativeSelector(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Set(ctx, "widget", map[string]any{"id": "1", "label": "Gadget"})
	require.NoError(t, err)
	_, err = b.Set(ctx, "widget", map[string]any{"id": "2", "label": "Sprocket"})
	require.NoError(t, err)

	recs, err := b.Query(ctx, "widget", []storage.Filter{{Field: "label", Value: "Gadget"}}, storage.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Gadget", recs[0]["label"])
}

func TestRenameProp_RewritesEveryDocument(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Set(ctx, "widget", map[string]any{"id": "1", "old_key": "value"})
	require.NoError(t, err)

	n, err := b.RenameProp(ctx, "widget", "old_key", "new_key")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := b.Get(ctx, "widget", strPtr("1"))
	require.NoError(t, err)
	rec := out.(map[string]any)
	assert.Equal(t, "value", rec["new_key"])
	assert.Nil(t, rec["old_key"])
}

func strPtr(s string) *string { return &s }
