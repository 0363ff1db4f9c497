// Package record defines the uniform record shape every class's instances
// share: {id, class_id, declared fields, extras} (spec §3, Design Note
// "Polymorphic records" / "Dynamic properties").
package record

import (
	"fmt"
	"time"
)

// ID is a tagged union over the two id shapes the backends allocate:
// string (UUID, custom id) or int64 (auto-increment).
type ID struct {
	str  string
	num  int64
	isNum bool
}

// StringID builds a string-valued ID.
func StringID(s string) ID { return ID{str: s} }

// IntID builds an integer-valued ID.
func IntID(n int64) ID { return ID{num: n, isNum: true} }

// IsZero reports whether the ID was never assigned.
func (i ID) IsZero() bool { return !i.isNum && i.str == "" }

// IsNumeric reports whether the ID holds an integer.
func (i ID) IsNumeric() bool { return i.isNum }

// String renders the ID as it would appear in a URL path or JSON string key.
func (i ID) String() string {
	if i.isNum {
		return fmt.Sprintf("%d", i.num)
	}
	return i.str
}

// Int64 returns the numeric value (0 if the ID is string-valued).
func (i ID) Int64() int64 { return i.num }

// MarshalJSON renders numeric ids as JSON numbers and string ids as JSON strings.
func (i ID) MarshalJSON() ([]byte, error) {
	if i.isNum {
		return []byte(fmt.Sprintf("%d", i.num)), nil
	}
	return []byte(fmt.Sprintf("%q", i.str)), nil
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (i *ID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := jsonUnquote(data, &s); err != nil {
			return err
		}
		*i = ID{str: s}
		return nil
	}
	var n int64
	if _, err := fmt.Sscanf(string(data), "%d", &n); err != nil {
		return err
	}
	*i = ID{num: n, isNum: true}
	return nil
}

func jsonUnquote(data []byte, out *string) error {
	var s string
	if err := unmarshalQuoted(data, &s); err != nil {
		return err
	}
	*out = s
	return nil
}

// unmarshalQuoted is a tiny, dependency-free JSON string decoder used only by
// ID.UnmarshalJSON so this package does not need to import encoding/json.
func unmarshalQuoted(data []byte, out *string) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("record: invalid id literal %q", data)
	}
	*out = string(data[1 : len(data)-1])
	return nil
}

// System audit field keys, shared by every non-system record (spec §3).
const (
	FieldID        = "id"
	FieldClassID   = "class_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldCreatedBy = "created_by"
	FieldUpdatedBy = "updated_by"
	FieldOwnerID   = "owner_id"
	FieldAppID     = "app_id"
	FieldDomain    = "domain"
)

// Record is the uniform shape of every stored entity: an id, the class it
// belongs to, its declared fields, and any undeclared extras merged back in
// on serialization (Design Note "Dynamic properties").
type Record struct {
	ID        ID
	ClassID   string
	Fields    map[string]any
	Extras    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	UpdatedBy string
	OwnerID   string
	AppID     string
	Domain    string
}

// New returns an empty record for classID.
func New(classID string) *Record {
	return &Record{
		ClassID: classID,
		Fields:  make(map[string]any),
		Extras:  make(map[string]any),
	}
}

// Clone returns a deep copy safe to hand to a caller without aliasing maps.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = deepCopyMap(r.Fields)
	out.Extras = deepCopyMap(r.Extras)
	return &out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// ToMap flattens the record into the wire shape the backends persist and the
// HTTP API serializes: audit/identity fields alongside declared fields and
// extras, all as one flat map.
func (r *Record) ToMap() map[string]any {
	out := make(map[string]any, len(r.Fields)+len(r.Extras)+8)
	for k, v := range r.Extras {
		out[k] = v
	}
	for k, v := range r.Fields {
		out[k] = v
	}
	out[FieldID] = idValue(r.ID)
	out[FieldClassID] = r.ClassID
	if !r.CreatedAt.IsZero() {
		out[FieldCreatedAt] = r.CreatedAt
	}
	if !r.UpdatedAt.IsZero() {
		out[FieldUpdatedAt] = r.UpdatedAt
	}
	if r.CreatedBy != "" {
		out[FieldCreatedBy] = r.CreatedBy
	}
	if r.UpdatedBy != "" {
		out[FieldUpdatedBy] = r.UpdatedBy
	}
	if r.OwnerID != "" {
		out[FieldOwnerID] = r.OwnerID
	}
	if r.AppID != "" {
		out[FieldAppID] = r.AppID
	}
	if r.Domain != "" {
		out[FieldDomain] = r.Domain
	}
	return out
}

func idValue(id ID) any {
	if id.isNum {
		return id.num
	}
	return id.str
}

// FromMap rebuilds a Record from a flat wire map, routing known audit keys
// into their dedicated fields and everything else into Fields (the caller is
// expected to later move declared-prop keys from Fields into Extras or back
// via the schema, since this constructor has no schema awareness).
func FromMap(classID string, m map[string]any) *Record {
	r := New(classID)
	for k, v := range m {
		switch k {
		case FieldID:
			r.ID = idFromAny(v)
		case FieldClassID:
			if s, ok := v.(string); ok {
				r.ClassID = s
			}
		case FieldCreatedAt:
			r.CreatedAt = timeFromAny(v)
		case FieldUpdatedAt:
			r.UpdatedAt = timeFromAny(v)
		case FieldCreatedBy:
			r.CreatedBy, _ = v.(string)
		case FieldUpdatedBy:
			r.UpdatedBy, _ = v.(string)
		case FieldOwnerID:
			r.OwnerID, _ = v.(string)
		case FieldAppID:
			r.AppID, _ = v.(string)
		case FieldDomain:
			r.Domain, _ = v.(string)
		default:
			r.Fields[k] = v
		}
	}
	return r
}

func idFromAny(v any) ID {
	switch t := v.(type) {
	case string:
		return StringID(t)
	case int64:
		return IntID(t)
	case int:
		return IntID(int64(t))
	case float64:
		return IntID(int64(t))
	default:
		return ID{}
	}
}

func timeFromAny(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
