/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/tablestore/errors"
)

// IsRetryable reports whether a DynamoDB failure is transient. It suits
// repository.WithRetryPolicy.
func IsRetryable(err error) bool {
	if err == nil || errors.IsDomainError(err) ||
		stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		conflict   *types.TransactionConflictException
	)
	switch {
	case stderrors.As(err, &throughput), stderrors.As(err, &limit),
		stderrors.As(err, &internal), stderrors.As(err, &conflict):
		return true
	}

	var canceled *types.TransactionCanceledException
	if stderrors.As(err, &canceled) {
		for _, r := range canceled.CancellationReasons {
			switch code := r.Code; {
			case code == nil:
			case *code == "TransactionConflict", *code == "ThrottlingError", *code == "ProvisionedThroughputExceeded":
				return true
			}
		}
		return false
	}

	// AWS SDK errors that know whether they can be retried
	var retryable interface{ RetryableError() bool }
	if stderrors.As(err, &retryable) {
		return retryable.RetryableError()
	}
	return false
}
