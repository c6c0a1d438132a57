package store

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/andreyvit/livedb"
)

// systemTablePrefix marks tables maintained by the store's collaborators
// (e.g. sync subscriptions) rather than by applications.
const systemTablePrefix = "__"

type Op string

const (
	OpEq       Op = "="
	OpNe       Op = "!="
	OpLt       Op = "<"
	OpLe       Op = "<="
	OpGt       Op = ">"
	OpGe       Op = ">="
	OpContains Op = "contains"
)

// Cond compares one top-level field of a row with a constant.
type Cond struct {
	Field string `json:"field" yaml:"field" msgpack:"f"`
	Op    Op     `json:"op" yaml:"op" msgpack:"o"`
	Value any    `json:"value" yaml:"value" msgpack:"v"`
}

// Query selects rows of one table matching all conditions, ordered by key
// or by SortBy.
type Query struct {
	Table  string `json:"table" yaml:"table" msgpack:"t"`
	Where  []Cond `json:"where,omitempty" yaml:"where,omitempty" msgpack:"w,omitempty"`
	SortBy string `json:"sort_by,omitempty" yaml:"sort_by,omitempty" msgpack:"s,omitempty"`
	Desc   bool   `json:"desc,omitempty" yaml:"desc,omitempty" msgpack:"d,omitempty"`
	Limit  int    `json:"limit,omitempty" yaml:"limit,omitempty" msgpack:"l,omitempty"`
}

// String is a canonical description of q; equal queries describe equally.
func (q Query) String() string {
	var buf strings.Builder
	buf.WriteString(q.Table)
	for i, c := range q.Where {
		if i == 0 {
			buf.WriteString(" where ")
		} else {
			buf.WriteString(" and ")
		}
		fmt.Fprintf(&buf, "%s %s %s", c.Field, c.Op, formatValue(c.Value))
	}
	if q.SortBy != "" {
		buf.WriteString(" sort by ")
		buf.WriteString(q.SortBy)
		if q.Desc {
			buf.WriteString(" desc")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&buf, " limit %d", q.Limit)
	}
	return buf.String()
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return strconv.Quote(v)
	case nil:
		return "null"
	default:
		return fmt.Sprint(v)
	}
}

// Validate reports the first reason q cannot be evaluated, as a
// *livedb.QueryError.
func (q Query) Validate() error {
	if q.Table == "" {
		return livedb.QueryErrf(q.String(), nil, "no table")
	}
	if q.Limit < 0 {
		return livedb.QueryErrf(q.String(), nil, "negative limit %d", q.Limit)
	}
	for _, c := range q.Where {
		if err := validateKeyPath(q, c.Field); err != nil {
			return err
		}
		switch c.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		case OpContains:
			if _, ok := c.Value.(string); !ok {
				return livedb.QueryErrf(q.String(), nil, "%s requires a string, got %T", c.Op, c.Value)
			}
		default:
			return livedb.QueryErrf(q.String(), nil, "unsupported operator %q", c.Op)
		}
	}
	if q.SortBy != "" {
		if err := validateKeyPath(q, q.SortBy); err != nil {
			return err
		}
	}
	return nil
}

func validateKeyPath(q Query, path string) error {
	if path == "" {
		return livedb.QueryErrf(q.String(), nil, "empty key path")
	}
	if strings.Contains(path, ".") {
		return livedb.QueryErrf(q.String(), nil, "key path resolution failed for %q: linked objects and backlinks are not supported", path)
	}
	return nil
}

func (q Query) match(row map[string]any) bool {
	for _, c := range q.Where {
		if !c.match(row) {
			return false
		}
	}
	return true
}

func (c Cond) match(row map[string]any) bool {
	v, found := row[c.Field]
	if !found {
		v = nil
	}
	if c.Op == OpContains {
		s, ok := v.(string)
		return ok && strings.Contains(s, c.Value.(string))
	}
	r, ok := compareValues(v, c.Value)
	switch c.Op {
	case OpEq:
		return ok && r == 0
	case OpNe:
		return !ok || r != 0
	case OpLt:
		return ok && r < 0
	case OpLe:
		return ok && r <= 0
	case OpGt:
		return ok && r > 0
	case OpGe:
		return ok && r >= 0
	default:
		return false
	}
}

// compareValues orders two decoded values. Numbers of any width compare
// numerically; values of unrelated types are incomparable.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmp.Compare(fa, fb), true
		}
		return 0, false
	}
	switch a := a.(type) {
	case string:
		if b, ok := b.(string); ok {
			return strings.Compare(a, b), true
		}
	case bool:
		if b, ok := b.(bool); ok {
			if a == b {
				return 0, true
			} else if !a {
				return -1, true
			} else {
				return 1, true
			}
		}
	}
	return 0, false
}

// sortValues is a total order for sorting: missing values first, then
// numbers, then strings, then bools, then everything else as equal.
func sortValues(a, b any) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	r, ok := compareValues(a, b)
	if !ok {
		return 0
	}
	return r
}

func sortRank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
