package schema

import (
	"fmt"

	"go.uber.org/multierr"
)

// EvolutionError is a change between two schema versions that makes
// buffers written with one misread by the other.
type EvolutionError struct {
	Table  string
	Field  string
	Index  int
	Reason string
}

func (e *EvolutionError) Error() string {
	return fmt.Sprintf("schema evolution: %s.%s (index %d): %s", e.Table, e.Field, e.Index, e.Reason)
}

// CheckEvolution reports the changes from prev to next that break
// compatibility: a field that changed kind or default, a field removed
// instead of deprecated, a deprecated index brought back, or a required
// field old buffers do not carry. Adding fields and reordering declarations
// are compatible. Tables are matched through the root and the table fields
// that link them, so renaming a table or a field is allowed.
//
// Every violation is an *EvolutionError; use multierr.Errors to list them.
func CheckEvolution(prev, next *Schema) error {
	c := &evolutionChecker{prev: prev, next: next, seen: make(map[[2]string]bool)}
	c.tables(prev.RootTable(), next.RootTable())
	return c.err
}

type evolutionChecker struct {
	prev, next *Schema
	seen       map[[2]string]bool
	err        error
}

func (c *evolutionChecker) fail(t *Table, f *Field, reason string, args ...interface{}) {
	c.err = multierr.Append(c.err, &EvolutionError{
		Table:  t.Name,
		Field:  f.Name,
		Index:  f.Index,
		Reason: fmt.Sprintf(reason, args...),
	})
}

func (c *evolutionChecker) tables(ot, nt *Table) {
	if ot == nil || nt == nil {
		return
	}
	key := [2]string{ot.Name, nt.Name}
	if c.seen[key] {
		return
	}
	c.seen[key] = true

	for _, of := range ot.Fields {
		nf := nt.Field(of.Index)
		switch {
		case nf == nil:
			c.fail(ot, of, "removed; keep it as deprecated so the index is not reused")
		case of.Deprecated && !nf.Deprecated:
			c.fail(nt, nf, "deprecated index %d reused", of.Index)
		case of.Deprecated || nf.Deprecated:
			// Retired: never read or written again.
		default:
			c.fields(nt, of, nf)
		}
	}
	for _, nf := range nt.Fields {
		if ot.Field(nf.Index) == nil && nf.Required {
			c.fail(nt, nf, "new field is required but older buffers do not carry it")
		}
	}
}

func (c *evolutionChecker) fields(nt *Table, of, nf *Field) {
	if of.Kind != nf.Kind || of.Elem != nf.Elem {
		c.fail(nt, nf, "type changed from %s to %s", of.TypeName(), nf.TypeName())
		return
	}
	if of.Kind.IsScalar() && !of.DefaultValue().Equal(nf.DefaultValue()) {
		c.fail(nt, nf, "default changed from %s to %s", of.DefaultValue(), nf.DefaultValue())
	}
	if !of.Required && nf.Required {
		c.fail(nt, nf, "became required")
	}
	if of.Kind == TableKind || of.Elem == TableKind {
		c.tables(c.prev.Table(of.Table), c.next.Table(nf.Table))
	}
}
