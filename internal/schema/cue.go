package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/stitch/internal/stitcherr"
)

// Defaults applied to entities that omit them.
const (
	DefaultDatastore  = "default"
	DefaultPrimaryKey = "id"
)

// CompileError is a schema error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadDir loads every .cue file in dir and returns a finalized registry.
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindInvalidSchema, err, "schema directory %s", dir)
	}
	if !info.IsDir() {
		return nil, stitcherr.New(stitcherr.KindInvalidSchema, "not a directory: %s", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindInvalidSchema, err, "scanning %s", dir)
	}
	if len(files) == 0 {
		return nil, stitcherr.New(stitcherr.KindInvalidSchema, "no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir, Package: "_"})
	if len(instances) == 0 {
		return nil, stitcherr.New(stitcherr.KindInvalidSchema, "no CUE instances loaded from %s", dir)
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindInvalidSchema, formatCUEError(inst.Err), "loading CUE files")
	}
	return Build(ctx.BuildInstance(instances[0]))
}

// CompileString compiles CUE source text into a finalized registry.
func CompileString(src, filename string) (*Registry, error) {
	ctx := cuecontext.New()
	return Build(ctx.CompileString(src, cue.Filename(filename)))
}

// Build compiles the entity: struct of a CUE value into a finalized
// registry.
func Build(v cue.Value) (*Registry, error) {
	if err := v.Err(); err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindInvalidSchema, formatCUEError(err), "building CUE value")
	}

	reg := NewRegistry()
	entities := v.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, stitcherr.Wrap(stitcherr.KindInvalidSchema,
			&CompileError{Field: "entity", Message: "no entities defined", Pos: v.Pos()}, "compiling schema")
	}

	iter, err := entities.Fields()
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindInvalidSchema, formatCUEError(err), "iterating entities")
	}
	for iter.Next() {
		e, err := CompileEntity(iter.Label(), iter.Value())
		if err != nil {
			return nil, stitcherr.Wrap(stitcherr.KindInvalidSchema, err, "compiling entity").WithEntity(iter.Label())
		}
		if err := reg.Add(e); err != nil {
			return nil, err
		}
	}
	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	return reg, nil
}

// CompileEntity parses one entity struct.
func CompileEntity(identity string, v cue.Value) (*Entity, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	e := &Entity{
		Identity:   identity,
		Attributes: make(map[string]*Attribute),
	}

	var err error
	if e.Datastore, err = optionalString(v, "datastore", DefaultDatastore); err != nil {
		return nil, err
	}
	if e.PrimaryKey, err = optionalString(v, "primaryKey", DefaultPrimaryKey); err != nil {
		return nil, err
	}

	attrs := v.LookupPath(cue.ParsePath("attributes"))
	if attrs.Exists() {
		iter, err := attrs.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			a, err := compileAttribute(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			e.Attributes[a.Name] = a
		}
	}

	// The primary key is implicit when not declared.
	if _, ok := e.Attributes[e.PrimaryKey]; !ok {
		e.Attributes[e.PrimaryKey] = &Attribute{Name: e.PrimaryKey, Type: TypeInteger}
	}
	return e, nil
}

func compileAttribute(name string, v cue.Value) (*Attribute, error) {
	a := &Attribute{Name: name}

	typ, err := optionalString(v, "type", "")
	if err != nil {
		return nil, err
	}
	a.Type = AttrType(typ)
	if a.Model, err = optionalString(v, "model", ""); err != nil {
		return nil, err
	}
	if a.Collection, err = optionalString(v, "collection", ""); err != nil {
		return nil, err
	}
	if a.Via, err = optionalString(v, "via", ""); err != nil {
		return nil, err
	}
	if a.ColumnName, err = optionalString(v, "columnName", ""); err != nil {
		return nil, err
	}

	if req := v.LookupPath(cue.ParsePath("required")); req.Exists() {
		if a.Required, err = req.Bool(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if a.IsAssociation() && a.Type != "" {
		return nil, &CompileError{Field: "attributes." + name, Message: "type cannot be combined with model or collection", Pos: v.Pos()}
	}
	if !a.IsAssociation() {
		if a.Type == "" {
			a.Type = TypeString
		}
		if !ValidType(a.Type) {
			return nil, &CompileError{
				Field:   "attributes." + name + ".type",
				Message: fmt.Sprintf("unknown type %q (expected string, integer, boolean or json)", a.Type),
				Pos:     v.Pos(),
			}
		}
	}
	return a, nil
}

func optionalString(v cue.Value, field, def string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return def, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
