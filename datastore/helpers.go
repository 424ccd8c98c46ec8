/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/storagemodels"
)

// MaxPageSize is the largest page the table service returns.
const MaxPageSize int32 = 1000

var tableNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,62}$`)

// ValidateTableName checks name against the table service naming rules:
// alphanumeric, starting with a letter, 3 to 63 characters.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return errors.NewValidationError("table", fmt.Sprintf("invalid table name %q", name))
	}
	return nil
}

// PageLimit returns the effective page size for top.
func PageLimit(top int32) int32 {
	if top <= 0 || top > MaxPageSize {
		return MaxPageSize
	}
	return top
}

// ValidateTransaction checks the batch rules shared by every backend.
func ValidateTransaction(actions []storagemodels.TransactionAction) error {
	if len(actions) == 0 {
		return errors.NewValidationError("actions", "transaction is empty")
	}
	if len(actions) > storagemodels.MaxTransactionActions {
		return errors.NewValidationError("actions", fmt.Sprintf("transaction has %d actions, limit is %d", len(actions), storagemodels.MaxTransactionActions))
	}
	seen := make(map[string]struct{}, len(actions))
	pk := ""
	for i, a := range actions {
		if a.Entity == nil {
			return errors.NewValidationError("actions", fmt.Sprintf("action %d has no entity", i))
		}
		if i == 0 {
			pk = a.Entity.PartitionKey
		} else if a.Entity.PartitionKey != pk {
			return errors.NewValidationError("actions", fmt.Sprintf("action %d targets partition %q, transaction is bound to %q", i, a.Entity.PartitionKey, pk))
		}
		if _, dup := seen[a.Entity.RowKey]; dup {
			return errors.NewValidationError("actions", fmt.Sprintf("row %q appears more than once", a.Entity.RowKey))
		}
		seen[a.Entity.RowKey] = struct{}{}
	}
	return nil
}

// Apply resolves the properties to store when incoming is written over stored.
// stored may be nil. Nil values are never stored.
func Apply(stored, incoming *storagemodels.Entity, mode storagemodels.UpdateMode) map[string]any {
	out := make(map[string]any, len(incoming.Properties))
	if mode == storagemodels.UpdateModeMerge && stored != nil {
		for k, v := range stored.Properties {
			out[k] = v
		}
	}
	for k, v := range incoming.Properties {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// EncodeToken packs a backend resume position into an opaque continuation token.
func EncodeToken(position any) (string, error) {
	data, err := json.Marshal(position)
	if err != nil {
		return "", fmt.Errorf("encode continuation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken unpacks a token produced by EncodeToken into position.
func DecodeToken(token string, position any) error {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(data, position)
	}
	if err != nil {
		return errors.NewValidationError("continuationToken", "malformed token")
	}
	return nil
}
