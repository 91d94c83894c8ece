package criteria

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/stitcherr"
)

// Lookup answers the schema questions normalization needs.
// A nil Lookup disables primary-key shorthand and nested From inference.
type Lookup interface {
	// PrimaryKey returns the primary key attribute of an entity.
	PrimaryKey(entity string) (string, bool)

	// Related returns the entity an association attribute points at.
	Related(entity, attr string) (string, bool)
}

// Option configures Normalize.
type Option func(*normalizer)

// WithFrom sets the target entity used when the input does not name one.
func WithFrom(entity string) Option {
	return func(n *normalizer) { n.from = entity }
}

// WithDefaultLimit overrides DefaultLimit for the tree and every nested tree.
func WithDefaultLimit(limit int) Option {
	return func(n *normalizer) { n.defaultLimit = limit }
}

type normalizer struct {
	lookup       Lookup
	from         string
	defaultLimit int
}

// Normalize converts loose query input into a canonical Tree.
//
// Accepted input is what JSON or YAML decoding produces (maps, slices,
// strings, numbers, booleans, nil) or ir values. Errors are
// *stitcherr.Error of kind KindMalformedQuery or KindUnresolvableReference
// and are always raised before any datastore is touched.
func Normalize(raw any, lookup Lookup, opts ...Option) (*Tree, error) {
	n := &normalizer{lookup: lookup, defaultLimit: DefaultLimit}
	for _, opt := range opts {
		opt(n)
	}
	return n.tree(raw, n.from, "")
}

// tree normalizes one operations tree. path prefixes error messages.
func (n *normalizer) tree(raw any, from, path string) (*Tree, error) {
	t := &Tree{From: from, Select: Select{}, Limit: n.defaultLimit}

	obj, isObj := asMap(raw)
	if !isObj {
		where, err := n.where(raw, from, join(path, "where"))
		if err != nil {
			return nil, err
		}
		t.Where = where
		return t, nil
	}

	if !hasAny(obj, opMods) {
		where, err := n.where(obj, from, join(path, "where"))
		if err != nil {
			return nil, err
		}
		t.Where = where
		return t, nil
	}

	for _, key := range sortedKeys(obj) {
		if !slices.Contains(opMods, key) {
			return nil, malformed(path, "unrecognized query key %q", key)
		}
	}

	if rawFrom, ok := obj["from"]; ok && rawFrom != nil {
		s, ok := rawFrom.(string)
		if !ok {
			return nil, malformed(path, "from must be a string, got %T", rawFrom)
		}
		t.From = s
	}

	var err error
	if rawWhere, ok := obj["where"]; ok {
		if t.Where, err = n.where(rawWhere, t.From, join(path, "where")); err != nil {
			return nil, err
		}
	}
	if rawSelect, ok := obj["select"]; ok {
		if t.Select, err = n.selectTree(rawSelect, t.From, join(path, "select")); err != nil {
			return nil, err
		}
	}
	if rawSort, ok := obj["sort"]; ok {
		if t.Sort, err = parseSort(rawSort); err != nil {
			return nil, malformed(join(path, "sort"), "%v", err)
		}
	}
	if rawSkip, ok := obj["skip"]; ok {
		if t.Skip, err = nonNegativeInt(rawSkip); err != nil {
			return nil, malformed(join(path, "skip"), "%v", err)
		}
	}
	if rawLimit, ok := obj["limit"]; ok {
		if t.Limit, err = nonNegativeInt(rawLimit); err != nil {
			return nil, malformed(join(path, "limit"), "%v", err)
		}
	}
	return t, nil
}

// where normalizes a where clause for entity from.
func (n *normalizer) where(raw any, from, path string) (Where, error) {
	switch v := raw.(type) {
	case nil:
		return Where{}, nil
	case bool:
		return Where{None: !v}, nil
	}

	obj, isObj := asMap(raw)
	if !isObj {
		return n.primaryKeyShorthand(raw, from, path)
	}

	w := Where{}
	for _, attr := range sortedKeys(obj) {
		val := obj[attr]
		switch {
		case attr == "or" || attr == "and":
			branches, err := n.branches(val, from, join(path, attr))
			if err != nil {
				return Where{}, err
			}
			if attr == "or" {
				w.Or = branches
			} else {
				w.And = branches
			}
			continue
		case slices.Contains(opMods, attr):
			return Where{}, malformed(path, "where cannot contain query modifier %q", attr)
		}

		p, err := n.predicate(val, from, attr, join(path, attr))
		if err != nil {
			return Where{}, err
		}
		if w.Attrs == nil {
			w.Attrs = make(map[string]Predicate, len(obj))
		}
		w.Attrs[attr] = p
	}
	return w, nil
}

// branches normalizes the list under an or/and key. Branches must be flat.
func (n *normalizer) branches(raw any, from, path string) ([]Where, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, malformed(path, "expected a list of where clauses, got %T", raw)
	}
	out := make([]Where, 0, len(list))
	for i, item := range list {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if _, isObj := asMap(item); !isObj {
			if _, isBool := item.(bool); !isBool {
				return nil, malformed(itemPath, "expected a where clause, got %T", item)
			}
		}
		w, err := n.where(item, from, itemPath)
		if err != nil {
			return nil, err
		}
		if !isFlat(w) {
			return nil, malformed(itemPath, "subquery modifiers are not allowed inside or/and")
		}
		out = append(out, w)
	}
	return out, nil
}

func (n *normalizer) primaryKeyShorthand(raw any, from, path string) (Where, error) {
	if from == "" || n.lookup == nil {
		return Where{}, stitcherr.New(stitcherr.KindUnresolvableReference,
			"%s: scalar criteria %v needs a target entity to resolve its primary key", pathOrRoot(path), raw)
	}
	pk, ok := n.lookup.PrimaryKey(from)
	if !ok {
		return Where{}, stitcherr.New(stitcherr.KindUnresolvableReference,
			"%s: entity %q has no known primary key", pathOrRoot(path), from).WithEntity(from)
	}
	value, err := literalValue(raw)
	if err != nil {
		return Where{}, malformed(path, "%v", err)
	}
	return Where{Attrs: map[string]Predicate{pk: Literal{Value: value}}}, nil
}

// predicate classifies the value given for one where attribute.
func (n *normalizer) predicate(raw any, from, attr, path string) (Predicate, error) {
	obj, isObj := asMap(raw)
	if !isObj {
		value, err := literalValue(raw)
		if err != nil {
			return nil, malformed(path, "%v", err)
		}
		return Literal{Value: value}, nil
	}

	var nOps, nSub, nOther int
	for key := range obj {
		switch {
		case slices.Contains(opMods, key):
			return nil, malformed(path, "attribute criteria cannot contain query modifier %q", key)
		case operatorAliases[key] != "":
			nOps++
		case slices.Contains(subqueryMods, key):
			nSub++
		default:
			nOther++
		}
	}

	switch {
	case nOps > 0 && nSub > 0:
		return nil, malformed(path, "cannot mix subquery modifiers with comparison modifiers")
	case nOps > 0 && nOther > 0:
		return nil, malformed(path, "cannot mix comparison modifiers with nested criteria")
	case nSub > 0 && nOther > 0:
		return nil, malformed(path, "cannot mix subquery modifiers with nested criteria")
	case nOps > 0:
		return comparison(obj, path)
	}

	related := n.related(from, attr)

	if nSub == 0 {
		whose, err := n.where(obj, related, join(path, "whose"))
		if err != nil {
			return nil, err
		}
		return Subquery{Whose: whose, Min: 1, From: related}, nil
	}

	sq := Subquery{From: related}
	if rawWhose, ok := obj["whose"]; ok {
		whose, err := n.where(rawWhose, related, join(path, "whose"))
		if err != nil {
			return nil, err
		}
		sq.Whose = whose
	}

	rawMin, hasMin := obj["min"]
	rawMax, hasMax := obj["max"]
	switch {
	case hasMin:
		m, err := nonNegativeInt(rawMin)
		if err != nil {
			return nil, malformed(join(path, "min"), "%v", err)
		}
		sq.Min = m
	case hasMax:
		sq.Min = 0
	default:
		sq.Min = 1
	}
	if hasMax {
		m, err := nonNegativeInt(rawMax)
		if err != nil {
			return nil, malformed(join(path, "max"), "%v", err)
		}
		if m < sq.Min {
			return nil, malformed(path, "max (%d) is less than min (%d)", m, sq.Min)
		}
		sq.Max = &m
	}
	return sq, nil
}

func comparison(obj map[string]any, path string) (Comparison, error) {
	c := Comparison{Ops: make(map[Operator]ir.IRValue, len(obj))}
	for _, key := range sortedKeys(obj) {
		op := operatorAliases[key]
		value, err := literalValue(obj[key])
		if err != nil {
			return Comparison{}, malformed(join(path, key), "%v", err)
		}
		_, isList := value.(ir.IRArray)

		switch op {
		case OpNe:
			if isList {
				op = OpNotIn
			}
		case OpEq:
			if isList {
				op = OpIn
			}
		case OpIn, OpNotIn:
			if !isList {
				return Comparison{}, malformed(join(path, key), "%s expects a list", key)
			}
		case OpContains, OpStartsWith, OpEndsWith:
			if _, isStr := value.(ir.IRString); !isStr {
				return Comparison{}, malformed(join(path, key), "%s expects a string", key)
			}
		default:
			if isList {
				return Comparison{}, malformed(join(path, key), "%s does not accept a list", key)
			}
		}
		if _, dup := c.Ops[op]; dup {
			return Comparison{}, malformed(path, "operator %q given twice", op)
		}
		c.Ops[op] = value
	}
	return c, nil
}

// related returns the entity attr of from points at, or "" for scalars and
// when no lookup is available.
func (n *normalizer) related(from, attr string) string {
	if n.lookup == nil || from == "" {
		return ""
	}
	related, _ := n.lookup.Related(from, attr)
	return related
}

// selectTree normalizes a select clause for entity from.
func (n *normalizer) selectTree(raw any, from, path string) (Select, error) {
	if raw == nil {
		return Select{}, nil
	}
	if list, ok := raw.([]any); ok {
		out := make(Select, len(list))
		for i, item := range list {
			attr, ok := item.(string)
			if !ok || attr == "" {
				return nil, malformed(fmt.Sprintf("%s[%d]", path, i), "expected an attribute name, got %v", item)
			}
			if related := n.related(from, attr); related != "" {
				out[attr] = Projection{Nested: &Tree{From: related, Select: Select{}, Limit: n.defaultLimit}}
				continue
			}
			out[attr] = Projection{Scalar: true}
		}
		return out, nil
	}

	obj, isObj := asMap(raw)
	if !isObj {
		return nil, malformed(path, "select must be an object or a list, got %T", raw)
	}

	out := make(Select, len(obj))
	for _, attr := range sortedKeys(obj) {
		if slices.Contains(opMods, attr) {
			return nil, malformed(path, "select cannot contain query modifier %q", attr)
		}
		related := n.related(from, attr)

		val := obj[attr]
		if b, isBool := val.(bool); isBool {
			switch {
			case !b:
			case related != "":
				out[attr] = Projection{Nested: &Tree{From: related, Select: Select{}, Limit: n.defaultLimit}}
			default:
				out[attr] = Projection{Scalar: true}
			}
			continue
		}

		sub, isObj := asMap(val)
		if !isObj {
			return nil, malformed(join(path, attr), "expected true or a nested query, got %T", val)
		}
		if !hasAny(sub, opMods) {
			sub = map[string]any{"select": sub}
		}
		nested, err := n.tree(sub, related, join(path, attr))
		if err != nil {
			return nil, err
		}
		out[attr] = Projection{Nested: nested}
	}
	return out, nil
}

// isFlat reports whether w (and its branches) contain no subqueries.
func isFlat(w Where) bool {
	for _, p := range w.Attrs {
		if _, ok := p.(Subquery); ok {
			return false
		}
	}
	for _, b := range w.And {
		if !isFlat(b) {
			return false
		}
	}
	for _, b := range w.Or {
		if !isFlat(b) {
			return false
		}
	}
	return true
}

// asMap accepts the object shapes produced by JSON, YAML and ir decoding.
func asMap(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return v, true
	case ir.IRObject:
		out, _ := ir.ToNative(v).(map[string]any)
		return out, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func literalValue(raw any) (ir.IRValue, error) {
	if arr, ok := raw.(ir.IRArray); ok {
		raw = ir.ToNative(arr)
	}
	if list, ok := raw.([]any); ok {
		out := make(ir.IRArray, 0, len(list))
		for i, item := range list {
			if _, isObj := asMap(item); isObj {
				return nil, fmt.Errorf("list element %d: objects are not comparable values", i)
			}
			v, err := ir.FromNative(item)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			out = append(out, v)
		}
		return out, nil
	}
	v, err := ir.FromNative(raw)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func nonNegativeInt(raw any) (int, error) {
	v, err := ir.FromNative(raw)
	if err != nil {
		return 0, err
	}
	i, ok := v.(ir.IRInt)
	if !ok {
		return 0, fmt.Errorf("expected a non-negative integer, got %v", raw)
	}
	if i < 0 {
		return 0, fmt.Errorf("expected a non-negative integer, got %d", i)
	}
	return int(i), nil
}

func hasAny(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func sortedKeys(obj map[string]any) []string {
	return slices.Sorted(maps.Keys(obj))
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func pathOrRoot(path string) string {
	if path == "" {
		return "query"
	}
	return path
}

func malformed(path, format string, args ...any) *stitcherr.Error {
	return stitcherr.New(stitcherr.KindMalformedQuery, "%s: %s", pathOrRoot(path), fmt.Sprintf(format, args...))
}

// ParseJSON normalizes a JSON-encoded query. Numbers are decoded as
// json.Number so large integers survive.
func ParseJSON(data []byte, lookup Lookup, opts ...Option) (*Tree, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindMalformedQuery, err, "query is not valid JSON")
	}
	return Normalize(raw, lookup, opts...)
}
