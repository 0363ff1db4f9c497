// Package schema holds the reflective class/property model: @class and
// @prop records describe every class, including the system classes
// themselves (spec §3, §4.2).
package schema

// DataType is one of the property primitive types (spec §3, @prop.data_type).
type DataType string

const (
	DataTypeString   DataType = "string"
	DataTypeBoolean  DataType = "boolean"
	DataTypeInteger  DataType = "integer"
	DataTypeFloat    DataType = "float"
	DataTypeObject   DataType = "object"
	DataTypeRelation DataType = "relation"
	DataTypeUnique   DataType = "unique"
	DataTypeFunction DataType = "function"
)

// OnOrphan describes what happens to a related object when its last
// reference disappears (spec §4.6).
type OnOrphan string

const (
	OnOrphanKeep     OnOrphan = "keep"
	OnOrphanDelete   OnOrphan = "delete"
	OnOrphanNullify  OnOrphan = "nullify"
)

// PropMeta is the effective definition of one class property (spec §3, @prop).
type PropMeta struct {
	ID                string
	ClassID           string
	Key               string
	DataType          DataType
	IsArray           bool
	ObjectClassID     []string
	ObjectClassStrict bool
	OnOrphan          OnOrphan
	Options           map[string]any
	Editor            string
	Validators        []ValidatorRef
	Required          bool
	ReadOnly          bool
	CreateOnly        bool
	ServerOnly        bool
	DefaultValue      any
	DisplayOrder      int
	GroupName         string
	Hidden            bool
}

// ValidatorRef names either a built-in validator ("email", "range", ...)
// with parameters, or a reference to an @function record (spec §4.3).
type ValidatorRef struct {
	Name       string
	FunctionID string
	Params     map[string]any
}

// ClassMeta is the effective (own + inherited) definition of a class
// (spec §3, @class, and §4.2 "effective props").
type ClassMeta struct {
	ID          string
	Name        string
	Description string
	ExtendsID   string
	Props       []PropMeta
	TableName   string
	IsSystem    bool
	IsAbstract  bool
}

// PropByKey returns the effective prop with the given key, if any.
func (c *ClassMeta) PropByKey(key string) (PropMeta, bool) {
	for _, p := range c.Props {
		if p.Key == key {
			return p, true
		}
	}
	return PropMeta{}, false
}

// IsSystemClassID reports whether id names a reserved system class.
func IsSystemClassID(id string) bool {
	return len(id) > 0 && id[0] == '@'
}

// Reserved system class ids (spec §3 and Glossary).
const (
	ClassClass    = "@class"
	ClassProp     = "@prop"
	ClassEditor   = "@editor"
	ClassFunction = "@function"
	ClassStorage  = "@storage"
	ClassAction   = "@action"
	ClassEvent    = "@event"
	ClassProvider = "@provider"
	ClassCRUDProvider = "crud_provider"
)
