/*
Package errors provides semantic error types for the TableStore library.

The package defines common error scenarios with specific types that can be
checked using the standard errors.Is() function or the provided helper functions.

Common Errors:

	var (
	    ErrNotFound        = errors.New("entity not found")
	    ErrAlreadyExists   = errors.New("entity already exists")
	    ErrInvalidInput    = errors.New("invalid input")
	    ErrConditionFailed = errors.New("condition check failed")
	    ErrNoBinding       = errors.New("no key binding found for type")
	    ErrConfiguration   = errors.New("invalid binding configuration")
	    ErrUnsupported     = errors.New("operation not supported")
	)

Backends translate their SDK failures into these where a mapping exists
(missing entity, key conflict, failed ETag precondition) and wrap everything
else with %w so the original SDK error stays reachable through errors.As.

Usage:

	user, err := users.Get(ctx, "tenant-1", "123")
	if errors.IsNotFound(err) {
	    // Handle not found case
	}

ConfigurationError is returned by mapping.Bind when a business type cannot be
bound to a partition/row key pair. It is meant to fail application startup.
When the type has no key source at all the error also matches ErrNoBinding.

ErrUnsupported marks requests a backend cannot express, such as a filter
literal with no OData form. The circuit breaker does not count them as faults.
*/
package errors
