// Package queryir is the intermediate representation datastore adapters
// compile page requests from.
//
// A canonical where clause is rich: literals that mean IN, comparison maps,
// And/Or branch lists, case-insensitive string operators, and null semantics
// that follow in-memory evaluation (a missing value is null, null equals
// null, range operators never match across kinds). Lower flattens all of
// that into a small set of explicit predicates so that each backend only
// has to translate primitives:
//
//	[criteria.Where] -> Lower -> [queryir.Select] -> querysql -> SQL
//
// Every Select carries an explicit, total ORDER BY (the caller's sort plus
// the primary key as a tiebreaker) so results are deterministic across runs.
//
// Validate reports constructs that are legal but worth surfacing, such as
// IN over an empty list, which can never match.
package queryir
