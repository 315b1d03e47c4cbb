package record

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/blastbao/gomem/flatbuffers"
	"github.com/blastbao/gomem/schema"
)

// ErrLength is returned by VerifyLength for a length the slice can not hold.
var ErrLength = xerrors.New("record: length exceeds buffer")

// Error locates a verification failure in the record: Path names the field
// being checked, e.g. "AppConfig.advanced_settings.allowed_hosts[1]". It
// wraps the *flatbuffers.VerifyError describing the failed check.
type Error struct {
	Path string
	Err  error

	frame xerrors.Frame
}

func (e *Error) Error() string { return fmt.Sprint(e) }

func (e *Error) Format(s fmt.State, v rune) { xerrors.FormatError(e, s, v) }

func (e *Error) FormatError(p xerrors.Printer) error {
	p.Printf("record: %s", e.Path)
	e.frame.Format(p)
	return e.Err
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures Verify.
type Option func(*options)

type options struct {
	verifier flatbuffers.VerifierOptions
	fid      string
	logger   *zap.Logger
}

func newOptions(opts []Option) *options {
	o := &options{
		verifier: flatbuffers.DefaultVerifierOptions,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMaxDepth bounds table nesting, the root being depth 1.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.verifier.MaxDepth = n }
}

// WithMaxTables bounds the number of tables visited.
func WithMaxTables(n int) Option {
	return func(o *options) { o.verifier.MaxTables = n }
}

// WithFileIdentifier requires the buffer to carry the 4-byte identifier fid.
func WithFileIdentifier(fid string) Option {
	return func(o *options) { o.fid = fid }
}

// WithVerifierOptions replaces all low-level verifier options.
func WithVerifierOptions(vo flatbuffers.VerifierOptions) Option {
	return func(o *options) { o.verifier = vo }
}

// WithLogger logs rejected buffers at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Verify proves that every structure reachable from the root of buf, as
// described by s, lies within buf. Only a buffer that passes may be read
// with Root. Work is proportional to the distinct reachable structures,
// each walked at most once per nesting level, not to len(buf) or to the
// number of paths reaching them; deprecated and undeclared fields are not
// visited.
func Verify(buf []byte, s *schema.Schema, opts ...Option) error {
	return verify(buf, s, newOptions(opts))
}

// VerifyLength verifies the first length bytes of buf.
func VerifyLength(buf []byte, length int, s *schema.Schema, opts ...Option) error {
	if length < 0 || length > len(buf) {
		return xerrors.Errorf("verify %d of %d bytes: %w", length, len(buf), ErrLength)
	}
	return Verify(buf[:length], s, opts...)
}

func verify(buf []byte, s *schema.Schema, o *options) error {
	root := s.RootTable()
	if root == nil {
		return xerrors.Errorf("record: schema has no root table %q", s.Root)
	}
	w := &walker{
		v:      flatbuffers.NewVerifier(buf, o.verifier),
		schema: s,
		path:   []string{root.Name},
		seen:   make(map[visit]int),
	}
	err := w.buffer(root, o.fid)
	if err != nil {
		o.logger.Debug("buffer rejected",
			zap.String("root", root.Name),
			zap.Int("size", len(buf)),
			zap.Int("depth", w.v.Depth()),
			zap.Int("tables", w.v.TablesVisited()),
			zap.Error(err),
		)
	}
	return err
}

// walker drives a flatbuffers.Verifier along a schema.
//
// Tables and vectors may be shared by several offsets. seen keeps, for each
// structure already verified, the deepest level it passed at; reaching it
// again no deeper is skipped, so each structure is walked at most once per
// nesting level.
type walker struct {
	v      *flatbuffers.Verifier
	schema *schema.Schema
	path   []string
	seen   map[visit]int
}

// visit is a structure at pos read as type typ.
type visit struct {
	pos flatbuffers.UOffsetT
	typ string
}

// verified reports whether key passed at depth or deeper.
func (w *walker) verified(key visit, depth int) bool {
	d, ok := w.seen[key]
	return ok && depth <= d
}

// fail attaches the current path to err, once.
func (w *walker) fail(err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	return &Error{Path: strings.Join(w.path, ""), Err: err, frame: xerrors.Caller(1)}
}

func (w *walker) push(elem string) { w.path = append(w.path, elem) }
func (w *walker) pop() { w.path = w.path[:len(w.path)-1] }

func (w *walker) buffer(root *schema.Table, fid string) error {
	pos, err := w.v.VerifyBufferHeader(fid)
	if err != nil {
		return w.fail(err)
	}
	return w.table(pos, root)
}

func (w *walker) table(pos flatbuffers.UOffsetT, t *schema.Table) error {
	key, depth := visit{pos: pos, typ: t.Name}, w.v.Depth()+1
	if w.verified(key, depth) {
		return nil
	}
	if err := w.v.VerifyTableStart(pos); err != nil {
		return w.fail(err)
	}
	for _, f := range t.Fields {
		if f.Deprecated {
			continue
		}
		w.push("." + f.Name)
		err := w.field(pos, f)
		w.pop()
		if err != nil {
			return err
		}
	}
	w.v.EndTable()
	w.seen[key] = depth
	return nil
}

func (w *walker) field(table flatbuffers.UOffsetT, f *schema.Field) error {
	if f.Kind.IsScalar() {
		if err := w.v.VerifyField(table, f.Slot(), f.Kind.Size()); err != nil {
			return w.fail(err)
		}
		return nil
	}

	pos, ok, err := w.v.VerifyOffsetField(table, f.Slot(), f.Required)
	if err != nil {
		return w.fail(err)
	}
	if !ok {
		return nil
	}
	switch f.Kind {
	case schema.String:
		if err := w.v.VerifyString(pos); err != nil {
			return w.fail(err)
		}
	case schema.TableKind:
		return w.table(pos, w.schema.Table(f.Table))
	case schema.Vector:
		return w.vector(pos, f)
	}
	return nil
}

func (w *walker) vector(pos flatbuffers.UOffsetT, f *schema.Field) error {
	key, depth := visit{pos: pos, typ: f.TypeName()}, w.v.Depth()
	if w.verified(key, depth) {
		return nil
	}
	n, err := w.v.VerifyVector(pos, f.Elem.Size())
	if err != nil {
		return w.fail(err)
	}
	if f.Elem.IsScalar() {
		return nil
	}

	var elemTable *schema.Table
	if f.Elem == schema.TableKind {
		elemTable = w.schema.Table(f.Table)
	}
	for i := 0; i < n; i++ {
		w.push("[" + strconv.Itoa(i) + "]")
		err := w.element(pos+flatbuffers.SizeUOffsetT+flatbuffers.UOffsetT(i*flatbuffers.SizeUOffsetT), elemTable)
		w.pop()
		if err != nil {
			return err
		}
	}
	w.seen[key] = depth
	return nil
}

// element checks one string or table element of a vector.
func (w *walker) element(slot flatbuffers.UOffsetT, t *schema.Table) error {
	pos, err := w.v.VerifyIndirect(slot)
	if err != nil {
		return w.fail(err)
	}
	if t != nil {
		return w.table(pos, t)
	}
	if err := w.v.VerifyString(pos); err != nil {
		return w.fail(err)
	}
	return nil
}
