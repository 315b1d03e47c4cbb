package schema

import (
	"math"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Descriptor documents are the serialized form of a Schema:
//
//	root: AppConfig
//	tables:
//	  - name: AppConfig
//	    fields:
//	      - {name: app_name, id: 1, type: string, required: true}
//	      - {name: max_connections, id: 4, type: uint16, default: 100}
//	      - {name: allowed_hosts, id: 3, type: "[string]"}
//	      - {name: settings, id: 6, type: AdvancedSettings}
//
// A type is a scalar kind name, "string", "[T]" for a vector of T, or the
// name of a table.
type descriptor struct {
	Root   string            `yaml:"root"`
	Tables []tableDescriptor `yaml:"tables"`
}

type tableDescriptor struct {
	Name   string            `yaml:"name"`
	Fields []fieldDescriptor `yaml:"fields"`
}

type fieldDescriptor struct {
	Name       string    `yaml:"name"`
	ID         *int      `yaml:"id"`
	Type       string    `yaml:"type"`
	Default    yaml.Node `yaml:"default"`
	Required   bool      `yaml:"required"`
	Deprecated bool      `yaml:"deprecated"`
}

// Parse reads a descriptor document and returns the validated schema.
func Parse(data []byte) (*Schema, error) {
	var d descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, xerrors.Errorf("schema: parse descriptor: %w", err)
	}

	s := &Schema{Root: d.Root}
	for _, td := range d.Tables {
		t := &Table{Name: td.Name}
		for _, fd := range td.Fields {
			f, err := fd.field()
			if err != nil {
				return nil, xerrors.Errorf("schema: %s.%s: %w", td.Name, fd.Name, err)
			}
			t.Fields = append(t.Fields, f)
		}
		s.Tables = append(s.Tables, t)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustParse is like Parse but panics on error. It is meant for descriptors
// embedded in the program.
func MustParse(data []byte) *Schema {
	s, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return s
}

func (fd *fieldDescriptor) field() (*Field, error) {
	if fd.ID == nil {
		return nil, xerrors.New("missing id")
	}
	f := &Field{
		Name:       fd.Name,
		Index:      *fd.ID,
		Required:   fd.Required,
		Deprecated: fd.Deprecated,
	}

	typ := strings.TrimSpace(fd.Type)
	switch {
	case typ == "":
		return nil, xerrors.New("missing type")
	case strings.HasPrefix(typ, "[") && strings.HasSuffix(typ, "]"):
		f.Kind = Vector
		elem := strings.TrimSpace(typ[1 : len(typ)-1])
		if k, ok := ParseKind(elem); ok {
			f.Elem = k
		} else {
			f.Elem, f.Table = TableKind, elem
		}
	default:
		if k, ok := ParseKind(typ); ok {
			f.Kind = k
		} else {
			f.Kind, f.Table = TableKind, typ
		}
	}

	if !fd.Default.IsZero() {
		if !f.Kind.IsScalar() {
			return nil, xerrors.Errorf("line %d: %s fields have no default", fd.Default.Line, f.Kind)
		}
		d, err := decodeScalar(f.Kind, &fd.Default)
		if err != nil {
			return nil, xerrors.Errorf("line %d: default: %w", fd.Default.Line, err)
		}
		f.Default = d
	}
	return f, nil
}

// decodeScalar decodes a YAML scalar node as a value of kind k, rejecting
// values k can not represent.
func decodeScalar(k Kind, n *yaml.Node) (Scalar, error) {
	switch {
	case k == Bool:
		var v bool
		if err := n.Decode(&v); err != nil {
			return Scalar{}, err
		}
		return BoolScalar(v), nil
	case k.IsFloat():
		var v float64
		if err := n.Decode(&v); err != nil {
			return Scalar{}, err
		}
		if k == Float32 && math.Abs(v) > math.MaxFloat32 && !math.IsInf(v, 0) {
			return Scalar{}, xerrors.Errorf("%v overflows %s", v, k)
		}
		return FloatScalar(k, v), nil
	case k.IsSigned():
		var v int64
		if err := n.Decode(&v); err != nil {
			return Scalar{}, err
		}
		if lo, hi := k.intRange(); v < lo || v > hi {
			return Scalar{}, xerrors.Errorf("%d overflows %s", v, k)
		}
		return IntScalar(k, v), nil
	default:
		var v uint64
		if err := n.Decode(&v); err != nil {
			return Scalar{}, err
		}
		if v > k.uintMax() {
			return Scalar{}, xerrors.Errorf("%d overflows %s", v, k)
		}
		return UintScalar(k, v), nil
	}
}
