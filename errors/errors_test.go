/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("User", "tenant|123")

	assert.Equal(t, `User with key "tenant|123" not found`, err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsAlreadyExists(err))
}

func TestAlreadyExistsError(t *testing.T) {
	err := NewAlreadyExistsError("Product", "ABC")

	assert.Equal(t, `Product with key "ABC" already exists`, err.Error())
	assert.True(t, IsAlreadyExists(err))
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		message  string
		expected string
	}{
		{
			name:     "with field",
			field:    "PartitionKey",
			message:  "must not be empty",
			expected: `validation failed for field "PartitionKey": must not be empty`,
		},
		{
			name:     "without field",
			message:  "missing required fields",
			expected: "validation failed: missing required fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message)
			assert.Equal(t, tt.expected, err.Error())
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestConditionFailedError(t *testing.T) {
	err := NewConditionFailedError("replace", `If-Match "W/1"`)

	assert.Equal(t, `condition check failed for replace operation: If-Match "W/1"`, err.Error())
	assert.True(t, IsConditionFailed(err))
}

func TestConfigurationError(t *testing.T) {
	withField := NewConfigurationError("Order", "Items", "unsupported property type map[string]int")
	assert.Equal(t, "invalid binding for Order.Items: unsupported property type map[string]int", withField.Error())
	assert.True(t, IsConfigurationError(withField))

	noField := NewConfigurationError("Order", "", "missing row key")
	assert.Equal(t, "invalid binding for Order: missing row key", noField.Error())
	assert.False(t, IsNoBinding(noField))

	unbound := fmt.Errorf("startup: %w", NewNoBindingError("Order", "missing partition key"))
	assert.Equal(t, "startup: invalid binding for Order: missing partition key", unbound.Error())
	assert.True(t, IsNoBinding(unbound))
	assert.True(t, IsConfigurationError(unbound))
}

func TestErrorWrapping(t *testing.T) {
	wrapped := fmt.Errorf("table operation failed: %w", NewNotFoundError("User", "123"))

	assert.True(t, IsNotFound(wrapped))
	assert.True(t, IsDomainError(wrapped))

	var nf *NotFoundError
	assert.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, "123", nf.Key)
}

func TestIsDomainError(t *testing.T) {
	assert.True(t, IsDomainError(NewConditionFailedError("delete", "etag")))
	assert.False(t, IsDomainError(errors.New("connection reset")))
	assert.False(t, IsDomainError(fmt.Errorf("query: %w", ErrUnsupported)))
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrNotFound,
		ErrAlreadyExists,
		ErrInvalidInput,
		ErrConditionFailed,
		ErrNoBinding,
		ErrConfiguration,
		ErrUnsupported,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("Sentinel errors should be distinct: %v matches %v", err1, err2)
			}
		}
	}
}
