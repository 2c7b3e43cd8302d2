// Package schema describes the entities the data client manages: their
// fields, field kinds, unique constraints, and relations. The query and
// mutation layers consult this registry to validate field references, pick
// comparison semantics, and resolve relation filters and nested writes.
package schema

import (
	"fmt"

	"agencydb/internal/domain"
)

// Kind is the value kind of a scalar field. Records hold JSON-typed values,
// so Int and Float both arrive as float64; the kind picks the comparison and
// aggregation behavior.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindStringList
)

// Field describes one scalar column of an entity.
type Field struct {
	Name     string
	Kind     Kind
	Required bool // must be supplied at create (id and timestamps are defaulted)
	Unique   bool
	Nullable bool
}

// RelKind distinguishes to-one from to-many relations.
type RelKind int

const (
	ToOne RelKind = iota
	ToMany
)

// Relation describes a named relation. FKField is the foreign-key column;
// FKOnSelf reports whether it lives on this entity (to-one owning side) or on
// the target entity (to-many, or the inverse side of a 1:1).
type Relation struct {
	Name     string
	Target   string
	Kind     RelKind
	FKField  string
	FKOnSelf bool
}

// Entity is the descriptor for one logical table.
type Entity struct {
	Name      string
	Fields    []Field
	Relations []Relation

	fieldIdx map[string]*Field
	relIdx   map[string]*Relation
}

// Field returns the descriptor for a scalar field, or nil.
func (e *Entity) Field(name string) *Field {
	return e.fieldIdx[name]
}

// Relation returns the descriptor for a relation, or nil.
func (e *Entity) Relation(name string) *Relation {
	return e.relIdx[name]
}

// UniqueFields lists the fields that carry a unique constraint, id first.
func (e *Entity) UniqueFields() []string {
	out := []string{"id"}
	for _, f := range e.Fields {
		if f.Unique && f.Name != "id" {
			out = append(out, f.Name)
		}
	}
	return out
}

// HasUpdatedAt reports whether the entity carries an updatedAt column.
func (e *Entity) HasUpdatedAt() bool {
	return e.fieldIdx["updatedAt"] != nil
}

var registry = map[string]*Entity{}
var ordered []*Entity

func register(e *Entity) {
	e.fieldIdx = make(map[string]*Field, len(e.Fields))
	for i := range e.Fields {
		e.fieldIdx[e.Fields[i].Name] = &e.Fields[i]
	}
	e.relIdx = make(map[string]*Relation, len(e.Relations))
	for i := range e.Relations {
		e.relIdx[e.Relations[i].Name] = &e.Relations[i]
	}
	registry[e.Name] = e
	ordered = append(ordered, e)
}

// Get looks up an entity descriptor by name.
func Get(name string) (*Entity, error) {
	e, ok := registry[name]
	if !ok {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("unknown entity %q", name)}
	}
	return e, nil
}

// All returns every registered entity in declaration order.
func All() []*Entity {
	return ordered
}

func id() Field        { return Field{Name: "id", Kind: KindString, Unique: true} }
func createdAt() Field { return Field{Name: "createdAt", Kind: KindTime} }
func updatedAt() Field { return Field{Name: "updatedAt", Kind: KindTime} }

func init() {
	register(&Entity{
		Name: "user",
		Fields: []Field{
			id(),
			{Name: "name", Kind: KindString, Required: true},
			{Name: "email", Kind: KindString, Required: true, Unique: true},
			{Name: "phone", Kind: KindString, Nullable: true},
			{Name: "avatar", Kind: KindString, Nullable: true},
			{Name: "timezone", Kind: KindString, Nullable: true},
			{Name: "role", Kind: KindString, Required: true},
			{Name: "status", Kind: KindString, Required: true},
			{Name: "agencyId", Kind: KindString, Nullable: true},
			{Name: "password", Kind: KindString, Nullable: true},
			createdAt(), updatedAt(),
		},
		Relations: []Relation{
			{Name: "preferences", Target: "notificationPreferences", Kind: ToOne, FKField: "userId"},
			{Name: "projects", Target: "project", Kind: ToMany, FKField: "createdBy"},
			{Name: "tasks", Target: "task", Kind: ToMany, FKField: "assignedTo"},
			{Name: "activityLogs", Target: "activityLog", Kind: ToMany, FKField: "userId"},
		},
	})

	register(&Entity{
		Name: "notificationPreferences",
		Fields: []Field{
			id(),
			{Name: "userId", Kind: KindString, Required: true, Unique: true},
			{Name: "email", Kind: KindBool},
			{Name: "inApp", Kind: KindBool},
			{Name: "slack", Kind: KindBool},
			createdAt(), updatedAt(),
		},
		Relations: []Relation{
			{Name: "user", Target: "user", Kind: ToOne, FKField: "userId", FKOnSelf: true},
		},
	})

	register(&Entity{
		Name: "project",
		Fields: []Field{
			id(),
			{Name: "name", Kind: KindString, Required: true},
			{Name: "agencyId", Kind: KindString, Required: true},
			{Name: "clientId", Kind: KindString, Nullable: true},
			{Name: "status", Kind: KindString, Required: true},
			{Name: "type", Kind: KindString, Nullable: true},
			{Name: "description", Kind: KindString, Nullable: true},
			{Name: "budget", Kind: KindFloat, Nullable: true},
			{Name: "pricingModel", Kind: KindString, Nullable: true},
			{Name: "deadline", Kind: KindTime, Nullable: true},
			{Name: "progress", Kind: KindInt},
			{Name: "internalNotes", Kind: KindString, Nullable: true},
			{Name: "attachments", Kind: KindStringList},
			{Name: "createdBy", Kind: KindString, Nullable: true},
			createdAt(), updatedAt(),
		},
		Relations: []Relation{
			{Name: "tasks", Target: "task", Kind: ToMany, FKField: "projectId"},
			{Name: "client", Target: "client", Kind: ToOne, FKField: "clientId", FKOnSelf: true},
			{Name: "creator", Target: "user", Kind: ToOne, FKField: "createdBy", FKOnSelf: true},
		},
	})

	register(&Entity{
		Name: "task",
		Fields: []Field{
			id(),
			{Name: "title", Kind: KindString, Required: true},
			{Name: "description", Kind: KindString, Nullable: true},
			{Name: "projectId", Kind: KindString, Nullable: true},
			{Name: "assignedTo", Kind: KindString, Nullable: true},
			{Name: "status", Kind: KindString, Required: true},
			{Name: "priority", Kind: KindString, Required: true},
			{Name: "estimatedHours", Kind: KindFloat, Nullable: true},
			{Name: "actualHours", Kind: KindFloat, Nullable: true},
			{Name: "deadline", Kind: KindTime, Nullable: true},
			{Name: "acceptanceCriteria", Kind: KindString, Nullable: true},
			{Name: "attachments", Kind: KindStringList},
			{Name: "createdBy", Kind: KindString, Nullable: true},
			createdAt(), updatedAt(),
		},
		Relations: []Relation{
			{Name: "project", Target: "project", Kind: ToOne, FKField: "projectId", FKOnSelf: true},
			{Name: "assignee", Target: "user", Kind: ToOne, FKField: "assignedTo", FKOnSelf: true},
		},
	})

	register(&Entity{
		Name: "client",
		Fields: []Field{
			id(),
			{Name: "name", Kind: KindString, Required: true},
			{Name: "email", Kind: KindString, Required: true, Unique: true},
			{Name: "phone", Kind: KindString, Nullable: true},
			{Name: "company", Kind: KindString, Nullable: true},
			{Name: "address", Kind: KindString, Nullable: true},
			{Name: "city", Kind: KindString, Nullable: true},
			{Name: "state", Kind: KindString, Nullable: true},
			{Name: "zipCode", Kind: KindString, Nullable: true},
			{Name: "country", Kind: KindString, Nullable: true},
			{Name: "website", Kind: KindString, Nullable: true},
			{Name: "notes", Kind: KindString, Nullable: true},
			{Name: "status", Kind: KindString, Required: true},
			{Name: "agencyId", Kind: KindString, Nullable: true},
			createdAt(), updatedAt(),
		},
		Relations: []Relation{
			{Name: "projects", Target: "project", Kind: ToMany, FKField: "clientId"},
			{Name: "contacts", Target: "contact", Kind: ToMany, FKField: "clientId"},
		},
	})

	register(&Entity{
		Name: "contact",
		Fields: []Field{
			id(),
			{Name: "name", Kind: KindString, Required: true},
			{Name: "email", Kind: KindString, Required: true, Unique: true},
			{Name: "phone", Kind: KindString, Nullable: true},
			{Name: "designation", Kind: KindString, Nullable: true},
			{Name: "department", Kind: KindString, Nullable: true},
			{Name: "notes", Kind: KindString, Nullable: true},
			{Name: "clientId", Kind: KindString, Nullable: true},
			{Name: "agencyId", Kind: KindString, Nullable: true},
			createdAt(), updatedAt(),
		},
		Relations: []Relation{
			{Name: "client", Target: "client", Kind: ToOne, FKField: "clientId", FKOnSelf: true},
		},
	})

	// Timesheet and calendarEvent keep bare-string reference fields with no
	// relation objects; the declared schema does not enforce them.
	register(&Entity{
		Name: "timesheet",
		Fields: []Field{
			id(),
			{Name: "userId", Kind: KindString, Required: true},
			{Name: "projectId", Kind: KindString, Nullable: true},
			{Name: "taskId", Kind: KindString, Nullable: true},
			{Name: "date", Kind: KindTime, Required: true},
			{Name: "hoursWorked", Kind: KindFloat, Required: true},
			{Name: "description", Kind: KindString, Nullable: true},
			{Name: "status", Kind: KindString, Required: true},
			{Name: "notes", Kind: KindString, Nullable: true},
			createdAt(), updatedAt(),
		},
	})

	register(&Entity{
		Name: "calendarEvent",
		Fields: []Field{
			id(),
			{Name: "title", Kind: KindString, Required: true},
			{Name: "description", Kind: KindString, Nullable: true},
			{Name: "startTime", Kind: KindTime, Required: true},
			{Name: "endTime", Kind: KindTime, Required: true},
			{Name: "location", Kind: KindString, Nullable: true},
			{Name: "attendees", Kind: KindStringList},
			{Name: "eventType", Kind: KindString, Required: true},
			{Name: "status", Kind: KindString, Required: true},
			{Name: "createdBy", Kind: KindString, Nullable: true},
			{Name: "notes", Kind: KindString, Nullable: true},
			createdAt(), updatedAt(),
		},
	})

	register(&Entity{
		Name: "activityLog",
		Fields: []Field{
			id(),
			{Name: "userId", Kind: KindString, Required: true},
			{Name: "userName", Kind: KindString, Required: true},
			{Name: "action", Kind: KindString, Nullable: true},
			{Name: "description", Kind: KindString, Nullable: true},
			{Name: "resourceType", Kind: KindString, Nullable: true},
			{Name: "resourceId", Kind: KindString, Nullable: true},
			{Name: "ipAddress", Kind: KindString, Nullable: true},
			createdAt(),
		},
		Relations: []Relation{
			{Name: "user", Target: "user", Kind: ToOne, FKField: "userId", FKOnSelf: true},
		},
	})
}
