// Package schema is the in-memory type model shared by the builder, the
// accessor and the verifier: tables, their fields, and scalar defaults.
//
// A field is identified by its Index, its vtable slot. Names are for
// diagnostics only. Once a schema has shipped, an index keeps its kind and
// default forever; a removed field is kept as Deprecated so the index is
// never reused. CheckEvolution enforces this between two versions.
package schema

import (
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/blastbao/gomem/flatbuffers"
)

// MaxFieldIndex is the largest index whose slot still fits a 16-bit vtable.
const MaxFieldIndex = (1<<16-1)/flatbuffers.SizeVOffsetT - flatbuffers.VtableMetadataFields - 1

// Field describes one slot of a table.
type Field struct {
	Name  string
	Index int
	Kind  Kind
	// Elem is the element kind of a Vector field.
	Elem Kind
	// Table names the table type of a Table field, or of the elements of a
	// vector of tables.
	Table string
	// Default is substituted for an absent scalar field. The zero Scalar
	// means the zero value of Kind.
	Default Scalar
	// Required fields must be present; only offset kinds can be required.
	Required bool
	// Deprecated fields keep their index reserved. They are never written,
	// read or verified.
	Deprecated bool
}

// DefaultValue returns the value an absent scalar field reads as.
func (f *Field) DefaultValue() Scalar {
	if f.Default.kind == Invalid {
		return Scalar{kind: f.Kind}
	}
	return f.Default
}

// TypeName spells the field type the way descriptors do: a kind name,
// "[T]" for vectors, or the table name.
func (f *Field) TypeName() string {
	switch f.Kind {
	case Vector:
		if f.Elem == TableKind {
			return "[" + f.Table + "]"
		}
		return "[" + f.Elem.String() + "]"
	case TableKind:
		return f.Table
	}
	return f.Kind.String()
}

// Slot is the vtable position of the field.
func (f *Field) Slot() flatbuffers.VOffsetT { return flatbuffers.SlotOffset(f.Index) }

// Table describes a table type.
type Table struct {
	Name   string
	Fields []*Field

	slots []*Field // indexed by Field.Index, built by Schema.Validate
}

// Field returns the field declared at index, or nil.
func (t *Table) Field(index int) *Field {
	if t.slots != nil {
		if index < 0 || index >= len(t.slots) {
			return nil
		}
		return t.slots[index]
	}
	for _, f := range t.Fields {
		if f.Index == index {
			return f
		}
	}
	return nil
}

// FieldByName returns the field called name, or nil.
func (t *Table) FieldByName(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// NumSlots is one more than the highest declared index, including
// deprecated fields. A builder sizes the table's vtable with it.
func (t *Table) NumSlots() int {
	n := 0
	for _, f := range t.Fields {
		if f.Index >= n {
			n = f.Index + 1
		}
	}
	return n
}

// Schema is a set of tables, one of which is the root of every buffer.
type Schema struct {
	Root   string
	Tables []*Table

	byName map[string]*Table
}

// New builds and validates a schema.
func New(root string, tables ...*Table) (*Schema, error) {
	s := &Schema{Root: root, Tables: tables}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Table returns the table called name, or nil.
func (s *Schema) Table(name string) *Table {
	if s.byName != nil {
		return s.byName[name]
	}
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// RootTable returns the root table.
func (s *Schema) RootTable() *Table { return s.Table(s.Root) }

// Validate checks the schema for internal consistency and indexes it for
// lookups. Every problem found is reported; the result combines them.
func (s *Schema) Validate() error {
	var err error
	byName := make(map[string]*Table, len(s.Tables))
	for _, t := range s.Tables {
		switch {
		case t.Name == "":
			err = multierr.Append(err, xerrors.New("schema: table with empty name"))
		case byName[t.Name] != nil:
			err = multierr.Append(err, xerrors.Errorf("schema: duplicate table %q", t.Name))
		default:
			byName[t.Name] = t
		}
	}
	if s.Root == "" {
		err = multierr.Append(err, xerrors.New("schema: no root table"))
	} else if byName[s.Root] == nil {
		err = multierr.Append(err, xerrors.Errorf("schema: root table %q not declared", s.Root))
	}

	for _, t := range s.Tables {
		err = multierr.Append(err, t.validate(byName))
	}
	if err != nil {
		return err
	}

	s.byName = byName
	for _, t := range s.Tables {
		t.slots = make([]*Field, t.NumSlots())
		for _, f := range t.Fields {
			t.slots[f.Index] = f
		}
	}
	return nil
}

func (t *Table) validate(tables map[string]*Table) error {
	var err error
	names := make(map[string]bool, len(t.Fields))
	indices := make(map[int]string, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			err = multierr.Append(err, xerrors.Errorf("schema: %s: field %d has no name", t.Name, f.Index))
		} else if names[f.Name] {
			err = multierr.Append(err, xerrors.Errorf("schema: %s: duplicate field name %q", t.Name, f.Name))
		}
		names[f.Name] = true

		if f.Index < 0 || f.Index > MaxFieldIndex {
			err = multierr.Append(err, xerrors.Errorf("schema: %s.%s: index %d out of range [0, %d]", t.Name, f.Name, f.Index, MaxFieldIndex))
		} else if other, ok := indices[f.Index]; ok {
			err = multierr.Append(err, xerrors.Errorf("schema: %s.%s: index %d already used by %q", t.Name, f.Name, f.Index, other))
		}
		indices[f.Index] = f.Name

		if ferr := f.validate(tables); ferr != nil {
			err = multierr.Append(err, xerrors.Errorf("schema: %s.%s: %w", t.Name, f.Name, ferr))
		}
	}
	return err
}

func (f *Field) validate(tables map[string]*Table) error {
	switch {
	case f.Kind.IsScalar():
		if f.Elem != Invalid || f.Table != "" {
			return xerrors.New("scalar field with element or table type")
		}
		if f.Default.kind != Invalid && f.Default.kind != f.Kind {
			return xerrors.Errorf("default of kind %s for a %s field", f.Default.kind, f.Kind)
		}
		if f.Required {
			return xerrors.New("scalar fields can not be required")
		}
	case f.Kind == String:
		if f.Elem != Invalid || f.Table != "" {
			return xerrors.New("string field with element or table type")
		}
	case f.Kind == Vector:
		switch {
		case f.Elem.IsScalar() || f.Elem == String:
			if f.Table != "" {
				return xerrors.Errorf("vector of %s with table type %q", f.Elem, f.Table)
			}
		case f.Elem == TableKind:
			if tables[f.Table] == nil {
				return xerrors.Errorf("unknown table %q", f.Table)
			}
		default:
			return xerrors.Errorf("unsupported vector element kind %s", f.Elem)
		}
	case f.Kind == TableKind:
		if f.Elem != Invalid {
			return xerrors.New("table field with element type")
		}
		if tables[f.Table] == nil {
			return xerrors.Errorf("unknown table %q", f.Table)
		}
	default:
		return xerrors.Errorf("invalid kind %d", f.Kind)
	}
	if !f.Kind.IsScalar() && f.Default.kind != Invalid {
		return xerrors.Errorf("%s fields have no default", f.Kind)
	}
	if f.Required && f.Deprecated {
		return xerrors.New("field is both required and deprecated")
	}
	return nil
}
