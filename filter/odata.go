/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package filter

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suparena/tablestore/errors"
)

// DateTimeLayout is the literal layout the table service accepts for Edm.DateTime.
const DateTimeLayout = "2006-01-02T15:04:05.0000000Z"

// ToOData renders e in the OData filter syntax used by the table service.
// A nil expression renders as the empty string.
func ToOData(e Expr) (string, error) {
	switch te := e.(type) {
	case nil:
		return "", nil
	case Comparison:
		if !te.Op.Valid() {
			return "", fmt.Errorf("filter: unknown operator %q", te.Op)
		}
		if te.Property == "" {
			return "", fmt.Errorf("filter: comparison without property")
		}
		lit, err := Literal(te.Value)
		if err != nil {
			return "", fmt.Errorf("filter: property %s: %w", te.Property, err)
		}
		return te.Property + " " + string(te.Op) + " " + lit, nil
	case Logical:
		parts := make([]string, 0, len(te.Exprs))
		for _, child := range te.Exprs {
			s, err := ToOData(child)
			if err != nil {
				return "", err
			}
			if needsParens(child) {
				s = "(" + s + ")"
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " "+string(te.Op)+" "), nil
	case Negation:
		s, err := ToOData(te.Expr)
		if err != nil {
			return "", err
		}
		return "not (" + s + ")", nil
	case RawExpr:
		return te.Text, nil
	}
	return "", fmt.Errorf("filter: unknown expression type %T", e)
}

func needsParens(e Expr) bool {
	switch e.(type) {
	case Logical, RawExpr:
		return true
	}
	return false
}

// Literal renders a single value as an OData literal.
func Literal(v any) (string, error) {
	switch tv := Normalize(v).(type) {
	case nil:
		return "", fmt.Errorf("%w: null literal", errors.ErrUnsupported)
	case string:
		return "'" + strings.ReplaceAll(tv, "'", "''") + "'", nil
	case bool:
		return strconv.FormatBool(tv), nil
	case int32:
		return strconv.FormatInt(int64(tv), 10), nil
	case int64:
		return strconv.FormatInt(tv, 10) + "L", nil
	case float64:
		if math.IsNaN(tv) || math.IsInf(tv, 0) {
			return "", fmt.Errorf("non-finite double %v", tv)
		}
		s := strconv.FormatFloat(tv, 'f', -1, 64)
		if !strings.ContainsAny(s, ".") {
			s += ".0"
		}
		return s, nil
	case time.Time:
		return "datetime'" + tv.UTC().Format(DateTimeLayout) + "'", nil
	case uuid.UUID:
		return "guid'" + tv.String() + "'", nil
	case []byte:
		return "X'" + hex.EncodeToString(tv) + "'", nil
	default:
		return "", fmt.Errorf("%w: literal type %T", errors.ErrUnsupported, v)
	}
}
