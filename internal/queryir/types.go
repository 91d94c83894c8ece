package queryir

import "github.com/roach88/stitch/internal/ir"

// Query is a sealed interface for query nodes.
type Query interface {
	queryNode()
}

// Predicate is a sealed interface for filter conditions.
type Predicate interface {
	predicateNode()
}

// Select reads rows of one table.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order> LIMIT <limit> OFFSET <offset>
type Select struct {
	From    string
	Columns []string  // empty means every column
	Filter  Predicate // nil means no filter
	Order   []Order
	Offset  int
	Limit   int // < 0 means unbounded
}

func (Select) queryNode() {}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Equals is field = value for a non-null value.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// In is field IN (values). Values never contain null.
type In struct {
	Field  string
	Values []ir.IRValue
}

func (In) predicateNode() {}

// IsNull is field IS NULL.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// CompareOp is a range operator.
type CompareOp string

const (
	Lt  CompareOp = "<"
	Lte CompareOp = "<="
	Gt  CompareOp = ">"
	Gte CompareOp = ">="
)

// Compare is a range comparison that only holds when field has the same
// kind as Value.
type Compare struct {
	Field string
	Op    CompareOp
	Value ir.IRValue
}

func (Compare) predicateNode() {}

// MatchMode is the position of a case-insensitive substring match.
type MatchMode int

const (
	Contains MatchMode = iota
	Prefix
	Suffix
)

// Match is a case-insensitive substring match on a string field.
type Match struct {
	Field string
	Mode  MatchMode
	Value string
}

func (Match) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// And holds when every predicate holds. Empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or holds when any predicate holds. Empty Or is false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}
