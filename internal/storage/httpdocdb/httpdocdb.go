// Package httpdocdb implements the HTTP document database storage backend:
// one database per class, documents carry an MVCC revision token, queries
// use the server's filter language with a client-side fallback (spec
// §4.1.3). The wire shape (`_id`, `_rev`, `_deleted`) follows the
// CouchDB-style document database referenced in the retrieval pack.
package httpdocdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elementstore/core/internal/storage"
)

// Config configures the HTTP document database client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// MaxRetries bounds the retry-on-conflict backoff used by the counter
	// document (spec §4.1.3 "retry-on-conflict with exponential backoff").
	MaxRetries int
}

// Backend is the HTTP document database backend.
type Backend struct {
	cfg    Config
	client *http.Client
}

// New returns a Backend talking to cfg.BaseURL.
func New(cfg Config) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Backend{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (b *Backend) databaseFor(classID string) string {
	return strings.ReplaceAll(classID, "@", "_")
}

func (b *Backend) docURL(classID, id string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(b.cfg.BaseURL, "/"), b.databaseFor(classID), url.PathEscape(id))
}

func (b *Backend) dbURL(classID string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(b.cfg.BaseURL, "/"), b.databaseFor(classID))
}

func (b *Backend) ensureDatabase(ctx context.Context, classID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.dbURL(classID), nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// 201 Created or 412 Precondition Failed (already exists) are both fine.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusPreconditionFailed {
		return fmt.Errorf("httpdocdb: create database %s: status %d", classID, resp.StatusCode)
	}
	return nil
}

type wireDoc struct {
	ID      string         `json:"_id"`
	Rev     string         `json:"_rev,omitempty"`
	Deleted bool           `json:"_deleted,omitempty"`
	Fields  map[string]any `json:"-"`
}

func (w wireDoc) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(w.Fields)+2)
	for k, v := range w.Fields {
		out[k] = v
	}
	out["_id"] = w.ID
	if w.Rev != "" {
		out["_rev"] = w.Rev
	}
	if w.Deleted {
		out["_deleted"] = true
	}
	return json.Marshal(out)
}

func (w *wireDoc) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	w.Fields = make(map[string]any, len(m))
	for k, v := range m {
		switch k {
		case "_id":
			w.ID, _ = v.(string)
		case "_rev":
			w.Rev, _ = v.(string)
		case "_deleted":
			w.Deleted, _ = v.(bool)
		default:
			w.Fields[k] = v
		}
	}
	return nil
}

func (w wireDoc) toRecord() map[string]any {
	out := make(map[string]any, len(w.Fields)+1)
	for k, v := range w.Fields {
		out[k] = v
	}
	out["id"] = w.ID
	return out
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, classID string, id *string) (any, error) {
	if err := b.ensureDatabase(ctx, classID); err != nil {
		return nil, err
	}
	if id == nil {
		return b.listAll(ctx, classID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.docURL(classID, *id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpdocdb: get %s/%s: status %d", classID, *id, resp.StatusCode)
	}
	var doc wireDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.toRecord(), nil
}

func (b *Backend) listAll(ctx context.Context, classID string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.dbURL(classID)+"/_all_docs?include_docs=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpdocdb: list %s: status %d", classID, resp.StatusCode)
	}
	var payload struct {
		Rows []struct {
			Doc wireDoc `json:"doc"`
		} `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		out = append(out, row.Doc.toRecord())
	}
	return out, nil
}

// Set implements storage.Backend. It first resolves the current revision
// (when updating) so the write carries the prior _rev for optimistic
// concurrency (spec §4.1.3).
func (b *Backend) Set(ctx context.Context, classID string, rec map[string]any) (map[string]any, error) {
	if err := b.ensureDatabase(ctx, classID); err != nil {
		return nil, err
	}

	idStr, _ := rec["id"].(string)
	if idStr == "" {
		if n, ok := numericID(rec["id"]); ok {
			idStr = n
		}
	}
	if idStr == "" {
		seq, err := b.nextSeq(ctx, classID)
		if err != nil {
			return nil, err
		}
		idStr = fmt.Sprintf("%d", seq)
	}
	rec["id"] = idStr

	existingRev, existed, err := b.currentRevision(ctx, classID, idStr)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !existed {
		rec["created_at"] = now
	}
	rec["updated_at"] = now

	fields := make(map[string]any, len(rec))
	for k, v := range rec {
		if k == "id" {
			continue
		}
		fields[k] = v
	}
	doc := wireDoc{ID: idStr, Rev: existingRev, Fields: fields}

	stored, err := b.putDoc(ctx, classID, doc)
	if err != nil {
		return nil, err
	}
	return stored.toRecord(), nil
}

func (b *Backend) currentRevision(ctx context.Context, classID, id string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.docURL(classID, id), nil)
	if err != nil {
		return "", false, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	return etag, true, nil
}

func (b *Backend) putDoc(ctx context.Context, classID string, doc wireDoc) (wireDoc, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return wireDoc{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.docURL(classID, doc.ID), bytes.NewReader(payload))
	if err != nil {
		return wireDoc{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return wireDoc{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return wireDoc{}, fmt.Errorf("httpdocdb: mvcc conflict writing %s/%s", classID, doc.ID)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return wireDoc{}, fmt.Errorf("httpdocdb: put %s/%s: status %d: %s", classID, doc.ID, resp.StatusCode, string(body))
	}
	var result struct {
		Rev string `json:"rev"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return wireDoc{}, err
	}
	doc.Rev = result.Rev
	return doc, nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(ctx context.Context, classID string, id string) (bool, error) {
	rev, existed, err := b.currentRevision(ctx, classID, id)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.docURL(classID, id)+"?rev="+url.QueryEscape(rev), nil)
	if err != nil {
		return false, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Query implements storage.Backend. It tries the server's native filter
// (Mango-style selector) first, and falls back to fetching everything and
// filtering client-side when the server rejects the selector, e.g. for a
// missing index (spec §4.1.3).
func (b *Backend) Query(ctx context.Context, classID string, filters []storage.Filter, opts storage.QueryOptions) ([]map[string]any, error) {
	if err := b.ensureDatabase(ctx, classID); err != nil {
		return nil, err
	}

	selector := make(map[string]any, len(filters))
	for _, f := range filters {
		if f.In != nil {
			selector[f.Field] = map[string]any{"$in": f.In}
		} else {
			selector[f.Field] = f.Value
		}
	}
	body := map[string]any{"selector": selector}
	if opts.Limit > 0 {
		body["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		body["skip"] = opts.Offset
	}
	if opts.Sort != "" {
		dir := "asc"
		if strings.EqualFold(opts.SortDir, "desc") {
			dir = "desc"
		}
		body["sort"] = []map[string]string{{opts.Sort: dir}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.dbURL(classID)+"/_find", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var result struct {
			Docs []wireDoc `json:"docs"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(result.Docs))
		for _, d := range result.Docs {
			out = append(out, d.toRecord())
		}
		return out, nil
	}

	// Server rejected the selector (e.g. missing index): fall back to a
	// client-side filter over the full listing.
	all, err := b.listAll(ctx, classID)
	if err != nil {
		return nil, err
	}
	return applyClientSideQuery(all, filters, opts), nil
}

func applyClientSideQuery(all []map[string]any, filters []storage.Filter, opts storage.QueryOptions) []map[string]any {
	matches := make([]map[string]any, 0, len(all))
outer:
	for _, rec := range all {
		for _, f := range filters {
			v, ok := rec[f.Field]
			if !ok {
				continue outer
			}
			if f.In != nil {
				found := false
				for _, candidate := range f.In {
					if fmt.Sprint(v) == fmt.Sprint(candidate) {
						found = true
						break
					}
				}
				if !found {
					continue outer
				}
			} else if fmt.Sprint(v) != fmt.Sprint(f.Value) {
				continue outer
			}
		}
		matches = append(matches, rec)
	}
	if opts.Offset > 0 && opts.Offset < len(matches) {
		matches = matches[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matches) {
		matches = matches[:opts.Limit]
	}
	return matches
}

// RenameProp implements storage.Backend by reading, rewriting, and writing
// every document back (no native key-rename operator over HTTP).
func (b *Backend) RenameProp(ctx context.Context, classID, oldKey, newKey string) (int, error) {
	all, err := b.listAll(ctx, classID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range all {
		v, ok := rec[oldKey]
		if !ok {
			continue
		}
		rec[newKey] = v
		delete(rec, oldKey)
		if _, err := b.Set(ctx, classID, rec); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// RenameClass implements storage.Backend by copying every document to a new
// per-class database and deleting the old one.
func (b *Backend) RenameClass(ctx context.Context, oldClassID, newClassID string) (int, error) {
	all, err := b.listAll(ctx, oldClassID)
	if err != nil {
		return 0, err
	}
	if err := b.ensureDatabase(ctx, newClassID); err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range all {
		delete(rec, "id")
		rec["class_id"] = newClassID
		if _, err := b.Set(ctx, newClassID, rec); err != nil {
			return count, err
		}
		count++
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.dbURL(oldClassID), nil)
	if err != nil {
		return count, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return count, err
	}
	resp.Body.Close()
	return count, nil
}

// nextSeq implements the shared counter database with retry-on-conflict and
// exponential backoff (spec §4.1.3).
func (b *Backend) nextSeq(ctx context.Context, classID string) (int64, error) {
	const counterClass = "_counters"
	if err := b.ensureDatabase(ctx, counterClass); err != nil {
		return 0, err
	}

	for attempt := 0; attempt < b.cfg.MaxRetries; attempt++ {
		rev, existed, err := b.currentRevision(ctx, counterClass, classID)
		if err != nil {
			return 0, err
		}
		seq := int64(1)
		if existed {
			raw, err := b.Get(ctx, counterClass, &classID)
			if err != nil {
				return 0, err
			}
			if rec, ok := raw.(map[string]any); ok {
				if s, ok := rec["seq"].(float64); ok {
					seq = int64(s) + 1
				}
			}
		}
		doc := wireDoc{ID: classID, Rev: rev, Fields: map[string]any{"seq": seq}}
		if _, err := b.putDoc(ctx, counterClass, doc); err != nil {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 10 * time.Millisecond
			backoff += time.Duration(rand.Intn(10)) * time.Millisecond
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		return seq, nil
	}
	return 0, fmt.Errorf("httpdocdb: exhausted retries incrementing counter for %s", classID)
}

func numericID(v any) (string, bool) {
	switch t := v.(type) {
	case float64:
		return fmt.Sprintf("%d", int64(t)), true
	case int64:
		return fmt.Sprintf("%d", t), true
	case int:
		return fmt.Sprintf("%d", t), true
	default:
		return "", false
	}
}
