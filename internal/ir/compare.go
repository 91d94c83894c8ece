package ir

import (
	"cmp"
	"strings"
)

// kindRank orders values of different kinds so Compare is total:
// null < bool < int < string < array < object.
func kindRank(v IRValue) int {
	switch v.(type) {
	case nil, IRNull:
		return 0
	case IRBool:
		return 1
	case IRInt:
		return 2
	case IRString:
		return 3
	case IRArray:
		return 4
	case IRObject:
		return 5
	}
	return 6
}

// Compare orders two values. It returns -1, 0 or +1.
//
// Ints compare numerically and strings compare by UTF-8 bytes (the same
// order SQLite uses for COLLATE BINARY). Values of different kinds compare
// by kind rank, which places nulls first.
func Compare(a, b IRValue) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch av := a.(type) {
	case IRBool:
		bv := b.(IRBool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		}
		return 1
	case IRInt:
		return cmp.Compare(av, b.(IRInt))
	case IRString:
		return strings.Compare(string(av), string(b.(IRString)))
	case IRArray:
		bv := b.(IRArray)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(av), len(bv))
	case IRObject:
		return strings.Compare(Key(av), Key(b))
	}
	return 0
}

// Equal reports whether a and b are canonically equal.
func Equal(a, b IRValue) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	return Key(a) == Key(b)
}

// Clone returns a deep copy of v. Records handed to callers are always
// clones so nothing outside the executor can mutate heap contents.
func Clone(v IRValue) IRValue {
	switch val := v.(type) {
	case IRArray:
		out := make(IRArray, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case IRObject:
		return CloneObject(val)
	case nil:
		return IRNull{}
	}
	return v
}

// CloneObject deep-copies a record.
func CloneObject(obj IRObject) IRObject {
	out := make(IRObject, len(obj))
	for k, elem := range obj {
		out[k] = Clone(elem)
	}
	return out
}

// CloneObjects deep-copies a record slice. The result is never nil.
func CloneObjects(objs []IRObject) []IRObject {
	out := make([]IRObject, len(objs))
	for i, o := range objs {
		out[i] = CloneObject(o)
	}
	return out
}

// Comparable reports whether a and b can be ordered by a range operator.
// Nulls and values of different kinds never satisfy <, >, <= or >=.
func Comparable(a, b IRValue) bool {
	if IsNull(a) || IsNull(b) {
		return false
	}
	return kindRank(a) == kindRank(b)
}
