/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package filter

import (
	"fmt"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// System property names shared by every table entity.
const (
	PartitionKey = "PartitionKey"
	RowKey       = "RowKey"
	Timestamp    = "Timestamp"
)

const (
	surrogateMin = 0xD800
	surrogateMax = 0xDFFF
)

// Op is a comparison operator, spelled the way the table service spells it.
type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpGt Op = "gt"
	OpGe Op = "ge"
	OpLt Op = "lt"
	OpLe Op = "le"
)

// Valid reports whether op is one of the known comparison operators.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		return true
	}
	return false
}

// LogicalOp joins expressions.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// Expr is a filter predicate. A nil Expr matches every entity.
type Expr interface {
	isExpr()
}

// Comparison compares a single property against a literal.
type Comparison struct {
	Property string
	Op       Op
	Value    any
}

// Logical combines two or more expressions with the same operator.
type Logical struct {
	Op    LogicalOp
	Exprs []Expr
}

// Negation inverts an expression.
type Negation struct {
	Expr Expr
}

// RawExpr carries a filter string in table-service syntax, untouched.
type RawExpr struct {
	Text string
}

func (Comparison) isExpr() {}
func (Logical) isExpr()    {}
func (Negation) isExpr()   {}
func (RawExpr) isExpr()    {}

func compare(property string, op Op, value any) Expr {
	return Comparison{Property: property, Op: op, Value: Normalize(value)}
}

func Eq(property string, value any) Expr { return compare(property, OpEq, value) }
func Ne(property string, value any) Expr { return compare(property, OpNe, value) }
func Gt(property string, value any) Expr { return compare(property, OpGt, value) }
func Ge(property string, value any) Expr { return compare(property, OpGe, value) }
func Lt(property string, value any) Expr { return compare(property, OpLt, value) }
func Le(property string, value any) Expr { return compare(property, OpLe, value) }

// And joins the non-nil expressions. It returns nil when nothing is left and
// the single expression when only one is left.
func And(exprs ...Expr) Expr { return join(OpAnd, exprs) }

// Or joins the non-nil expressions, with the same collapsing rules as And.
func Or(exprs ...Expr) Expr { return join(OpOr, exprs) }

// Not negates e. Not(nil) is nil.
func Not(e Expr) Expr {
	if e == nil {
		return nil
	}
	if n, ok := e.(Negation); ok {
		return n.Expr
	}
	return Negation{Expr: e}
}

// Raw wraps a filter string that is already in table-service syntax.
func Raw(text string) Expr {
	if text == "" {
		return nil
	}
	return RawExpr{Text: text}
}

func join(op LogicalOp, exprs []Expr) Expr {
	kept := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if e == nil {
			continue
		}
		// flatten nested groups of the same operator
		if l, ok := e.(Logical); ok && l.Op == op {
			kept = append(kept, l.Exprs...)
			continue
		}
		kept = append(kept, e)
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return Logical{Op: op, Exprs: kept}
}

// PartitionKeyEq matches a single partition.
func PartitionKeyEq(pk string) Expr { return Eq(PartitionKey, pk) }

// RowKeyEq matches a single row key.
func RowKeyEq(rk string) Expr { return Eq(RowKey, rk) }

// RowKeyPrefix matches row keys starting with prefix using a range scan.
func RowKeyPrefix(prefix string) Expr {
	if prefix == "" {
		return nil
	}
	upper, ok := prefixUpperBound(prefix)
	if !ok {
		return Ge(RowKey, prefix)
	}
	return And(Ge(RowKey, prefix), Lt(RowKey, upper))
}

// prefixUpperBound returns the smallest string greater than every string
// starting with prefix. Trailing runes that cannot be incremented are dropped;
// ok is false when none can.
func prefixUpperBound(prefix string) (upper string, ok bool) {
	runes := []rune(prefix)
	for i := len(runes) - 1; i >= 0; i-- {
		switch r := runes[i]; {
		case r == utf8.MaxRune:
			continue
		case r == surrogateMin-1:
			runes[i] = surrogateMax + 1
		default:
			runes[i] = r + 1
		}
		return string(runes[:i+1]), true
	}
	return "", false
}

// Normalize converts a Go value into one of the literal types understood by
// the filter layer: string, bool, int32, int64, float64, time.Time, []byte,
// uuid.UUID or nil. Pointers are dereferenced. Unknown kinds are returned as is
// and rejected when the expression is rendered.
func Normalize(v any) any {
	switch tv := v.(type) {
	case nil:
		return nil
	case string, bool, int32, int64, float64, []byte, uuid.UUID:
		return tv
	case time.Time:
		return tv.UTC()
	case int:
		return int64(tv)
	case int8:
		return int32(tv)
	case int16:
		return int32(tv)
	case uint8:
		return int32(tv)
	case uint16:
		return int32(tv)
	case uint32:
		return int64(tv)
	case float32:
		return float64(tv)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	}
	// named types over basic kinds, e.g. type Status string
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int64:
		return rv.Int()
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return int32(rv.Int())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// Transform rebuilds e, passing every comparison through fn. Raw expressions
// are kept as they are.
func Transform(e Expr, fn func(Comparison) (Comparison, error)) (Expr, error) {
	switch te := e.(type) {
	case nil:
		return nil, nil
	case Comparison:
		c, err := fn(te)
		if err != nil {
			return nil, err
		}
		return c, nil
	case Logical:
		out := make([]Expr, 0, len(te.Exprs))
		for _, child := range te.Exprs {
			tc, err := Transform(child, fn)
			if err != nil {
				return nil, err
			}
			out = append(out, tc)
		}
		return join(te.Op, out), nil
	case Negation:
		inner, err := Transform(te.Expr, fn)
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	case RawExpr:
		return te, nil
	}
	return nil, fmt.Errorf("filter: unknown expression type %T", e)
}

// Rename maps every property name through fn.
func Rename(e Expr, fn func(string) (string, error)) (Expr, error) {
	return Transform(e, func(c Comparison) (Comparison, error) {
		name, err := fn(c.Property)
		if err != nil {
			return c, err
		}
		c.Property = name
		return c, nil
	})
}

// PartitionOf returns the partition key pinned by a top-level equality on
// PartitionKey, if any. Backends use it to turn a filter into a keyed query.
func PartitionOf(e Expr) (string, bool) {
	switch te := e.(type) {
	case Comparison:
		if te.Property == PartitionKey && te.Op == OpEq {
			s, ok := te.Value.(string)
			return s, ok
		}
	case Logical:
		if te.Op != OpAnd {
			return "", false
		}
		for _, child := range te.Exprs {
			if pk, ok := PartitionOf(child); ok {
				return pk, true
			}
		}
	}
	return "", false
}
