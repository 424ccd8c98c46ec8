/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package filter

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LookupFunc resolves a property of the entity being evaluated.
type LookupFunc func(property string) (any, bool)

// Eval evaluates e against an entity exposed through lookup. Comparisons
// against a missing property or a value of a different type are false, which
// mirrors how the table service treats them.
func Eval(e Expr, lookup LookupFunc) (bool, error) {
	switch te := e.(type) {
	case nil:
		return true, nil
	case Comparison:
		actual, ok := lookup(te.Property)
		if !ok || actual == nil {
			return false, nil
		}
		c, ok := compareValues(Normalize(actual), Normalize(te.Value))
		if !ok {
			return false, nil
		}
		switch te.Op {
		case OpEq:
			return c == 0, nil
		case OpNe:
			return c != 0, nil
		case OpGt:
			return c > 0, nil
		case OpGe:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		}
		return false, fmt.Errorf("filter: unknown operator %q", te.Op)
	case Logical:
		for _, child := range te.Exprs {
			ok, err := Eval(child, lookup)
			if err != nil {
				return false, err
			}
			if te.Op == OpAnd && !ok {
				return false, nil
			}
			if te.Op == OpOr && ok {
				return true, nil
			}
		}
		return te.Op == OpAnd, nil
	case Negation:
		ok, err := Eval(te.Expr, lookup)
		return !ok, err
	case RawExpr:
		parsed, err := Parse(te.Text)
		if err != nil {
			return false, err
		}
		return Eval(parsed, lookup)
	}
	return false, fmt.Errorf("filter: unknown expression type %T", e)
}

// compareValues orders a and b. The second result is false when the two
// values cannot be compared.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case int32, int64, float64:
		af, _ := asFloat(a)
		bf, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		// integers compare exactly
		if ai, aok := asInt(a); aok {
			if bi, bok := asInt(b); bok {
				return cmpOrdered(ai, bi), true
			}
		}
		return cmpOrdered(af, bf), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case uuid.UUID:
		bv, ok := b.(uuid.UUID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av[:], bv[:]), true
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av, bv), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case int32:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case float64:
		return tv, true
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch tv := v.(type) {
	case int32:
		return int64(tv), true
	case int64:
		return tv, true
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
