package model

// EnumSource names a dynamically sourced enumeration injected at schema generation time.
type EnumSource string

const (
	EnumNone      EnumSource = ""
	EnumStatus    EnumSource = "status"
	EnumEventType EnumSource = "event_type"
)

// Field describes one property of a form object. Every field is optional in documents.
type Field struct {
	Name      string
	Title     string
	Type      string
	Order     int
	Format    string
	ReadOnly  bool
	MinLength int
	Default   any
	Options   map[string]any
	Media     map[string]any
	Enum      EnumSource
	// Items is set for arrays of objects and for nested objects.
	Items *Object
}

// Object describes a form object (Assignment, Block, Event, Image).
type Object struct {
	Name   string
	Title  string
	Format string
	Fields []Field
}

// Variant tags one assembly of the assignment form.
type Variant string

const (
	// VariantBase is the editable body only.
	VariantBase Variant = "base"
	// VariantUI adds the identifier and the schema hash; this is what the editor renders.
	VariantUI Variant = "ui"
	// VariantFull adds the schema hash and the embedded schema text.
	VariantFull Variant = "full"
	// VariantDB is VariantFull plus the identifier.
	VariantDB Variant = "db"
)

const defaultEventDescription = "The event fires when XXX.\nWhen fired, the event must send the following data:"

var wysiwyg = map[string]any{"wysiwyg": true}

func ImageObject() *Object {
	return &Object{
		Name:   "Image",
		Title:  "Image",
		Format: "grid",
		Fields: []Field{
			{
				Name:    FieldImageData,
				Title:   "File",
				Type:    "string",
				Format:  "url",
				Media:   map[string]any{"binaryEncoding": "base64", "type": "img/png"},
				Options: map[string]any{"grid_columns": 6, "multiple": true},
			},
			{Name: FieldImageLocation, Title: "location", Type: "string", ReadOnly: true},
			{Name: FieldImageDescription, Title: "Description", Type: "string", Options: map[string]any{"grid_columns": 6}},
		},
	}
}

func EventObject() *Object {
	image := ImageObject()
	return &Object{
		Name:  "Event",
		Title: "Event",
		Fields: []Field{
			{Name: FieldName, Title: "Event name", Type: "string", MinLength: 1, Order: 100350},
			{Name: FieldImages, Title: "Images", Type: "array", Format: "table", Order: 100400, Items: image},
			{Name: FieldEventType, Title: "Event Type", Type: "string", Order: 100500, Enum: EnumEventType},
			{Name: FieldDescription, Title: "Event Description", Type: "string", Format: "xhtml", Options: wysiwyg, Order: 100600, Default: defaultEventDescription},
			{Name: FieldEventData, Title: "Event Data", Type: "string", Format: "xhtml", Options: wysiwyg, Order: 100700},
			{Name: FieldCheckComment, Title: "Check comment", Type: "string", Format: "xhtml", Options: wysiwyg, Order: 100800},
			{Name: FieldCheckImages, Title: "Check Images", Type: "array", Format: "table", Order: 100900, Items: image},
			{Name: FieldInternalComment, Title: "Internal comment", Type: "string", Format: "xhtml", Options: wysiwyg, Order: 101000},
			{Name: FieldEventReady, Title: "Event ready", Type: "boolean", Format: "checkbox", Order: 101100, Default: false},
		},
	}
}

func BlockObject() *Object {
	return &Object{
		Name:  "Block",
		Title: "Block",
		Fields: []Field{
			{Name: FieldName, Title: "Block name", Type: "string", MinLength: 1, Order: 100100},
			{Name: FieldDescription, Title: "Block description", Type: "string", Format: "xhtml", Options: wysiwyg, Order: 100200},
			{Name: FieldBlockComment, Title: "Block comment", Type: "string", Format: "xhtml", Options: wysiwyg, Order: 100201},
			{Name: FieldEvents, Title: "Block events", Type: "array", Order: 100300, Items: EventObject()},
		},
	}
}

func baseFields() []Field {
	return []Field{
		{Name: FieldGroupID, Title: "Group ID", Type: "string", ReadOnly: true, Order: 10000},
		{Name: FieldName, Title: "Assignment Name", Type: "string", MinLength: 1, Order: 10002},
		{Name: FieldStatus, Title: "Status", Type: "string", Order: 100003, Enum: EnumStatus, Default: string(DefaultStatus)},
		{Name: FieldIssue, Title: "Issue number", Type: "string", MinLength: 1, Order: 100004},
		{Name: FieldVersion, Title: "Version Number", Type: "integer", ReadOnly: true, Order: 100005, Default: 1},
		{Name: FieldSaveCounter, Title: "Save Counter", Type: "integer", ReadOnly: true, Order: 100006, Default: 0},
		{Name: FieldAuthor, Title: "Author", Type: "string", MinLength: 1, Order: 100020},
		{Name: FieldCreatedAt, Title: "Create dtm", Type: "string", ReadOnly: true, Order: 100030},
		{Name: FieldUpdatedAt, Title: "Update dtm", Type: "string", ReadOnly: true, Order: 100040},
		{Name: FieldDescription, Title: "Assignment description", Type: "string", Format: "markdown", Order: 100050},
		{Name: FieldBlocks, Title: "Blocks", Type: "array", Order: 100060, Items: BlockObject()},
		{Name: FieldSize, Title: "Size, bytes", Type: "integer", ReadOnly: true, Order: 101200, Default: 0},
	}
}

var (
	idField         = Field{Name: FieldID, Title: "Assignment ID", Type: "string", ReadOnly: true, Order: 10001}
	schemaHashField = Field{Name: FieldSchemaHash, Title: "Assignment Schema Hash", Type: "string", ReadOnly: true, Order: 101300}
	schemaFields    = []Field{
		{Name: FieldSchema, Title: "Assignment Schema", Type: "string", ReadOnly: true, Order: 100102},
		{Name: FieldEventsMapper, Title: "Events Mapper", Type: "string", ReadOnly: true, Order: 100103},
	}
)

func assignment(fields ...[]Field) *Object {
	obj := &Object{Name: "Assignment", Title: "Technical Assignment"}
	for _, group := range fields {
		obj.Fields = append(obj.Fields, group...)
	}
	return obj
}

func AssignmentBase() *Object {
	return assignment(baseFields())
}

func AssignmentInUI() *Object {
	return assignment([]Field{idField, schemaHashField}, baseFields())
}

func AssignmentWithFullSchema() *Object {
	return assignment(schemaFields, []Field{schemaHashField}, baseFields())
}

func AssignmentInDB() *Object {
	return assignment([]Field{idField}, schemaFields, []Field{schemaHashField}, baseFields())
}
