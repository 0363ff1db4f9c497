// Package file implements the flat-file JSON storage backend: one file per
// class, content is a mapping from string id to record (spec §4.1.1).
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elementstore/core/internal/storage"
)

// Backend is the flat-file JSON storage backend. It is not safe under
// concurrent external writers (spec §4.1); within one process every
// operation is serialized by a single exclusive lock per class.
type Backend struct {
	dir string

	mu     sync.Mutex // guards the locks map itself
	locks  map[string]*sync.Mutex
}

// New returns a Backend rooted at dir, creating it if necessary.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file backend: create data dir: %w", err)
	}
	return &Backend{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (b *Backend) lockFor(classID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[classID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[classID] = l
	}
	return l
}

func (b *Backend) pathFor(classID string) string {
	return filepath.Join(b.dir, classID+".json")
}

func (b *Backend) readFile(classID string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(b.pathFor(classID))
	if os.IsNotExist(err) {
		return make(map[string]map[string]any), nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return make(map[string]map[string]any), nil
	}
	out := make(map[string]map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) writeFile(classID string, contents map[string]map[string]any) error {
	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.pathFor(classID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.pathFor(classID))
}

// Get implements storage.Backend.
func (b *Backend) Get(_ context.Context, classID string, id *string) (any, error) {
	l := b.lockFor(classID)
	l.Lock()
	defer l.Unlock()

	contents, err := b.readFile(classID)
	if err != nil {
		return nil, err
	}
	if id == nil {
		out := make([]map[string]any, 0, len(contents))
		for _, v := range contents {
			out = append(out, v)
		}
		sortByID(out)
		return toAnySlice(out), nil
	}
	rec, ok := contents[*id]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

// Set implements storage.Backend.
func (b *Backend) Set(_ context.Context, classID string, rec map[string]any) (map[string]any, error) {
	l := b.lockFor(classID)
	l.Lock()
	defer l.Unlock()

	contents, err := b.readFile(classID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	idStr, _ := rec["id"].(string)
	if idNum, ok := asNumericID(rec["id"]); ok {
		idStr = idNum
	}
	if idStr == "" {
		idStr = b.nextID(contents)
		rec["id"] = idStr
	}

	if existing, exists := contents[idStr]; !exists {
		rec["created_at"] = now
	} else if _, has := rec["created_at"]; !has {
		// Carry the stored creation time over when the caller omits it.
		rec["created_at"] = existing["created_at"]
		if s, ok := existing["created_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				rec["created_at"] = t
			}
		}
	}
	rec["updated_at"] = now
	rec["id"] = idStr

	stored := copyRecord(rec)
	contents[idStr] = stored
	if err := b.writeFile(classID, contents); err != nil {
		return nil, err
	}
	return copyRecord(stored), nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(_ context.Context, classID string, id string) (bool, error) {
	l := b.lockFor(classID)
	l.Lock()
	defer l.Unlock()

	contents, err := b.readFile(classID)
	if err != nil {
		return false, err
	}
	if _, ok := contents[id]; !ok {
		return false, nil
	}
	delete(contents, id)
	if err := b.writeFile(classID, contents); err != nil {
		return false, err
	}
	return true, nil
}

// Query implements storage.Backend.
func (b *Backend) Query(_ context.Context, classID string, filters []storage.Filter, opts storage.QueryOptions) ([]map[string]any, error) {
	l := b.lockFor(classID)
	l.Lock()
	contents, err := b.readFile(classID)
	l.Unlock()
	if err != nil {
		return nil, err
	}

	matches := make([]map[string]any, 0, len(contents))
outer:
	for _, rec := range contents {
		for _, f := range filters {
			if !matchFilter(rec, f) {
				continue outer
			}
		}
		matches = append(matches, rec)
	}

	if opts.Sort != "" {
		dir := strings.ToLower(opts.SortDir)
		sort.SliceStable(matches, func(i, j int) bool {
			less := compareValues(matches[i][opts.Sort], matches[j][opts.Sort])
			if dir == "desc" {
				return less > 0
			}
			return less < 0
		})
	} else {
		sortByID(matches)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matches) {
			return []map[string]any{}, nil
		}
		matches = matches[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matches) {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

// RenameProp implements storage.Backend by rewriting every record of classID
// in place (spec §4.1.1).
func (b *Backend) RenameProp(_ context.Context, classID, oldKey, newKey string) (int, error) {
	l := b.lockFor(classID)
	l.Lock()
	defer l.Unlock()

	contents, err := b.readFile(classID)
	if err != nil {
		return 0, err
	}
	count := 0
	now := time.Now().UTC()
	for id, rec := range contents {
		if v, ok := rec[oldKey]; ok {
			rec[newKey] = v
			delete(rec, oldKey)
			rec["updated_at"] = now
			contents[id] = rec
			count++
		}
	}
	if count > 0 {
		if err := b.writeFile(classID, contents); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// RenameClass implements storage.Backend by renaming the class file and
// rewriting class_id on every record (spec §4.1.1).
func (b *Backend) RenameClass(_ context.Context, oldClassID, newClassID string) (int, error) {
	oldLock := b.lockFor(oldClassID)
	newLock := b.lockFor(newClassID)
	// Always lock in a fixed order to avoid deadlocks across concurrent renames.
	first, second := oldLock, newLock
	if oldClassID > newClassID {
		first, second = newLock, oldLock
	}
	first.Lock()
	defer first.Unlock()
	if first != second {
		second.Lock()
		defer second.Unlock()
	}

	oldContents, err := b.readFile(oldClassID)
	if err != nil {
		return 0, err
	}
	newContents, err := b.readFile(newClassID)
	if err != nil {
		return 0, err
	}
	for id, rec := range oldContents {
		rec["class_id"] = newClassID
		newContents[id] = rec
	}
	if err := b.writeFile(newClassID, newContents); err != nil {
		return 0, err
	}
	if err := os.Remove(b.pathFor(oldClassID)); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return len(oldContents), nil
}

func (b *Backend) nextID(contents map[string]map[string]any) string {
	max := int64(0)
	for id := range contents {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			if n > max {
				max = n
			}
		}
	}
	if max == 0 && len(contents) > 0 {
		// Non-numeric ids in use (e.g. explicit-id creation elsewhere); fall
		// back to a UUID rather than risk colliding with an existing id.
		return uuid.NewString()
	}
	return strconv.FormatInt(max+1, 10)
}

func asNumericID(v any) (string, bool) {
	switch t := v.(type) {
	case float64:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	default:
		return "", false
	}
}

func copyRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func toAnySlice(in []map[string]any) []map[string]any {
	return in
}

func sortByID(recs []map[string]any) {
	sort.SliceStable(recs, func(i, j int) bool {
		return fmt.Sprint(recs[i]["id"]) < fmt.Sprint(recs[j]["id"])
	})
}

func matchFilter(rec map[string]any, f storage.Filter) bool {
	v, ok := rec[f.Field]
	if !ok {
		return false
	}
	if f.In != nil {
		for _, candidate := range f.In {
			if compareValues(v, candidate) == 0 {
				return true
			}
		}
		return false
	}
	return compareValues(v, f.Value) == 0
}

// compareValues returns -1/0/1, comparing numerically when both operands
// look numeric and lexically otherwise.
func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	return strings.Compare(as, bs)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
