package criteria

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/stitch/internal/ir"
)

// parseSort accepts "name DESC, age", {name: -1}, {name: "desc"} and lists
// of either form. Multi-key objects are ordered by attribute name since
// decoded maps carry no key order.
func parseSort(raw any) ([]SortKey, error) {
	var keys []SortKey
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		for _, clause := range strings.Split(v, ",") {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			k, err := parseSortClause(clause)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
	case []any:
		for i, item := range v {
			sub, err := parseSort(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			keys = append(keys, sub...)
		}
	default:
		obj, ok := asMap(raw)
		if !ok {
			return nil, fmt.Errorf("unsupported sort value %T", raw)
		}
		for _, attr := range slices.Sorted(maps.Keys(obj)) {
			desc, err := parseDirection(obj[attr])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", attr, err)
			}
			keys = append(keys, SortKey{Attr: attr, Desc: desc})
		}
	}

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k.Attr] {
			return nil, fmt.Errorf("attribute %q sorted twice", k.Attr)
		}
		seen[k.Attr] = true
	}
	return keys, nil
}

func parseSortClause(clause string) (SortKey, error) {
	fields := strings.Fields(clause)
	switch len(fields) {
	case 1:
		return SortKey{Attr: fields[0]}, nil
	case 2:
		desc, err := parseDirection(fields[1])
		if err != nil {
			return SortKey{}, fmt.Errorf("%s: %w", fields[0], err)
		}
		return SortKey{Attr: fields[0], Desc: desc}, nil
	}
	return SortKey{}, fmt.Errorf("malformed sort clause %q", clause)
}

func parseDirection(raw any) (bool, error) {
	if s, ok := raw.(string); ok {
		switch strings.ToUpper(s) {
		case "ASC":
			return false, nil
		case "DESC":
			return true, nil
		}
		return false, fmt.Errorf("unknown sort direction %q", s)
	}
	v, err := ir.FromNative(raw)
	if err != nil {
		return false, err
	}
	switch v {
	case ir.IRInt(1):
		return false, nil
	case ir.IRInt(-1):
		return true, nil
	}
	return false, fmt.Errorf("sort direction must be 1, -1, ASC or DESC, got %v", raw)
}

// CompareRecords orders two records by keys.
func CompareRecords(a, b ir.IRObject, keys []SortKey) int {
	for _, k := range keys {
		c := ir.Compare(a.Get(k.Attr), b.Get(k.Attr))
		if c == 0 {
			continue
		}
		if k.Desc {
			return -c
		}
		return c
	}
	return 0
}

// SortRecords stably sorts records in place by keys. Records that tie on
// every key keep their arrival order.
func SortRecords(records []ir.IRObject, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	slices.SortStableFunc(records, func(a, b ir.IRObject) int {
		return CompareRecords(a, b, keys)
	})
}

// Page applies skip and limit to records. A negative limit is unbounded.
// The result shares the backing array of records.
func Page(records []ir.IRObject, skip, limit int) []ir.IRObject {
	if skip >= len(records) {
		return records[:0]
	}
	records = records[skip:]
	if limit >= 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
