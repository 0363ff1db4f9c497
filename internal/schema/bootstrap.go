package schema

// bootstrapClasses is the compiled-in definition table used to answer
// get_class("@class") (and the other system classes) before any record has
// ever been persisted, and to seed storage on first use (Design Note
// "Reflective self-description": @class is itself an instance of @class).
var bootstrapClasses = map[string]*ClassMeta{
	ClassClass: {
		ID: ClassClass, Name: "Class", IsSystem: true,
		Props: []PropMeta{
			{ID: ClassClass + ".name", ClassID: ClassClass, Key: "name", DataType: DataTypeString, Required: true, DisplayOrder: 1},
			{ID: ClassClass + ".description", ClassID: ClassClass, Key: "description", DataType: DataTypeString, DisplayOrder: 2},
			{ID: ClassClass + ".extends_id", ClassID: ClassClass, Key: "extends_id", DataType: DataTypeString, CreateOnly: true, DisplayOrder: 3},
			{ID: ClassClass + ".props", ClassID: ClassClass, Key: "props", DataType: DataTypeObject, IsArray: true, ObjectClassID: []string{ClassProp}, DisplayOrder: 4},
			{ID: ClassClass + ".table_name", ClassID: ClassClass, Key: "table_name", DataType: DataTypeString, DisplayOrder: 5},
			{ID: ClassClass + ".is_system", ClassID: ClassClass, Key: "is_system", DataType: DataTypeBoolean, ReadOnly: true, DisplayOrder: 6},
			{ID: ClassClass + ".is_abstract", ClassID: ClassClass, Key: "is_abstract", DataType: DataTypeBoolean, DisplayOrder: 7},
		},
	},
	ClassProp: {
		ID: ClassProp, Name: "Property", IsSystem: true,
		Props: []PropMeta{
			{ID: ClassProp + ".key", ClassID: ClassProp, Key: "key", DataType: DataTypeString, Required: true, DisplayOrder: 1},
			{ID: ClassProp + ".data_type", ClassID: ClassProp, Key: "data_type", DataType: DataTypeString, Required: true, DisplayOrder: 2},
			{ID: ClassProp + ".is_array", ClassID: ClassProp, Key: "is_array", DataType: DataTypeBoolean, DisplayOrder: 3},
			{ID: ClassProp + ".object_class_id", ClassID: ClassProp, Key: "object_class_id", DataType: DataTypeString, IsArray: true, DisplayOrder: 4},
			{ID: ClassProp + ".object_class_strict", ClassID: ClassProp, Key: "object_class_strict", DataType: DataTypeBoolean, DisplayOrder: 5},
			{ID: ClassProp + ".on_orphan", ClassID: ClassProp, Key: "on_orphan", DataType: DataTypeString, DisplayOrder: 6},
			{ID: ClassProp + ".options", ClassID: ClassProp, Key: "options", DataType: DataTypeObject, DisplayOrder: 7},
			{ID: ClassProp + ".editor", ClassID: ClassProp, Key: "editor", DataType: DataTypeString, DisplayOrder: 8},
			{ID: ClassProp + ".validators", ClassID: ClassProp, Key: "validators", DataType: DataTypeObject, IsArray: true, DisplayOrder: 9},
			{ID: ClassProp + ".required", ClassID: ClassProp, Key: "required", DataType: DataTypeBoolean, DisplayOrder: 10},
			{ID: ClassProp + ".readonly", ClassID: ClassProp, Key: "readonly", DataType: DataTypeBoolean, DisplayOrder: 11},
			{ID: ClassProp + ".create_only", ClassID: ClassProp, Key: "create_only", DataType: DataTypeBoolean, DisplayOrder: 12},
			{ID: ClassProp + ".server_only", ClassID: ClassProp, Key: "server_only", DataType: DataTypeBoolean, DisplayOrder: 13},
			{ID: ClassProp + ".default_value", ClassID: ClassProp, Key: "default_value", DataType: DataTypeString, DisplayOrder: 14},
			{ID: ClassProp + ".display_order", ClassID: ClassProp, Key: "display_order", DataType: DataTypeInteger, DisplayOrder: 15},
			{ID: ClassProp + ".group_name", ClassID: ClassProp, Key: "group_name", DataType: DataTypeString, DisplayOrder: 16},
			{ID: ClassProp + ".hidden", ClassID: ClassProp, Key: "hidden", DataType: DataTypeBoolean, DisplayOrder: 17},
		},
	},
	ClassEditor:   {ID: ClassEditor, Name: "Editor", IsSystem: true, Props: []PropMeta{{Key: "name", DataType: DataTypeString, Required: true}, {Key: "component", DataType: DataTypeString}}},
	ClassFunction: {ID: ClassFunction, Name: "Function", IsSystem: true, Props: []PropMeta{{Key: "name", DataType: DataTypeString, Required: true}, {Key: "code", DataType: DataTypeString, Required: true}}},
	ClassAction:   {ID: ClassAction, Name: "Action", IsSystem: true, Props: []PropMeta{{Key: "name", DataType: DataTypeString, Required: true}, {Key: "function_id", DataType: DataTypeRelation, ObjectClassID: []string{ClassFunction}}}},
	ClassEvent:    {ID: ClassEvent, Name: "Event", IsSystem: true, Props: []PropMeta{{Key: "name", DataType: DataTypeString, Required: true}, {Key: "action_id", DataType: DataTypeRelation, ObjectClassID: []string{ClassAction}}}},
	ClassProvider: {ID: ClassProvider, Name: "Provider", IsSystem: true, Props: []PropMeta{{Key: "name", DataType: DataTypeString, Required: true}, {Key: "kind", DataType: DataTypeString}}},
	ClassCRUDProvider: {ID: ClassCRUDProvider, Name: "CRUD Provider", IsSystem: true, Props: []PropMeta{{Key: "name", DataType: DataTypeString, Required: true}, {Key: "provider_id", DataType: DataTypeRelation, ObjectClassID: []string{ClassProvider}}}},
	ClassStorage: {
		ID: ClassStorage, Name: "Storage", IsSystem: true,
		Props: []PropMeta{
			{Key: "type", DataType: DataTypeString, Required: true},
			{Key: "connection", DataType: DataTypeObject},
		},
	},
}

// BootstrapClass returns the compiled-in definition of a system class, or
// false if id does not name one. Used by the Registry before the @class
// record for @class itself has been persisted.
func BootstrapClass(id string) (*ClassMeta, bool) {
	c, ok := bootstrapClasses[id]
	return c, ok
}

// BootstrapClassIDs returns every system class id in the compiled-in table,
// in a stable order, so a fresh store can be seeded deterministically.
func BootstrapClassIDs() []string {
	return []string{
		ClassClass, ClassProp, ClassEditor, ClassFunction,
		ClassAction, ClassEvent, ClassProvider, ClassCRUDProvider, ClassStorage,
	}
}
