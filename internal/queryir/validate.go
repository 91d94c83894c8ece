package queryir

import "fmt"

// ValidationResult lists constructs in a query that are legal but notable.
type ValidationResult struct {
	// IsTrivial is true when the filter can never match.
	IsTrivial bool

	Warnings []string
}

// Validate inspects a query. It is a pure function.
func Validate(query Query) ValidationResult {
	v := &validator{warnings: []string{}}
	v.validateQuery(query)
	return ValidationResult{IsTrivial: v.trivial, Warnings: v.warnings}
}

type validator struct {
	warnings []string
	trivial  bool
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.addWarning("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.From == "" {
		v.addWarning("select has no source table")
	}
	if len(sel.Order) == 0 {
		v.addWarning("select on %s has no ORDER BY; page order is undefined", sel.From)
	}
	if sel.Filter != nil && never(sel.Filter) {
		v.trivial = true
		v.addWarning("filter on %s can never match", sel.From)
	}
	v.walk(sel.Filter)
}

func (v *validator) walk(p Predicate) {
	switch pred := p.(type) {
	case In:
		if len(pred.Values) == 0 {
			v.addWarning("IN on %s has an empty list", pred.Field)
		}
	case Not:
		v.walk(pred.Predicate)
	case And:
		for _, sub := range pred.Predicates {
			v.walk(sub)
		}
	case Or:
		for _, sub := range pred.Predicates {
			v.walk(sub)
		}
	}
}

// never reports whether p is statically false.
func never(p Predicate) bool {
	switch pred := p.(type) {
	case In:
		return len(pred.Values) == 0
	case Or:
		for _, sub := range pred.Predicates {
			if !never(sub) {
				return false
			}
		}
		return true
	case And:
		for _, sub := range pred.Predicates {
			if never(sub) {
				return true
			}
		}
	}
	return false
}
