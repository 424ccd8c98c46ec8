/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/storagemodels"
)

// Stream reads every entity matching expr page by page and delivers them on
// the returned channel, which is closed when the stream ends.
//
// Page reads are retried according to the retry policy; a page that still
// fails ends the stream with an error result. An entity that cannot be mapped
// is delivered as an error result, and the ErrorHandler, if set, decides
// whether the stream goes on. Cancelling ctx stops the stream.
func (r *Repository[B]) Stream(ctx context.Context, expr filter.Expr, opts ...storagemodels.StreamOption) <-chan storagemodels.StreamResult[B] {
	options := storagemodels.DefaultStreamOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.BufferSize < 0 {
		options.BufferSize = 0
	}

	resultCh := make(chan storagemodels.StreamResult[B], options.BufferSize)
	go r.streamWorker(ctx, expr, options, resultCh)
	return resultCh
}

type streamState struct {
	index     int64
	page      int
	startTime time.Time
	errors    []error
}

func (s *streamState) meta() storagemodels.StreamMeta {
	return storagemodels.StreamMeta{Index: s.index, PageNumber: s.page, Timestamp: time.Now()}
}

func (s *streamState) progress(token string) storagemodels.StreamProgress {
	p := storagemodels.StreamProgress{
		ItemsProcessed:    s.index,
		PagesProcessed:    s.page,
		ContinuationToken: token,
		Errors:            append([]error(nil), s.errors...),
		StartTime:         s.startTime,
	}
	if elapsed := time.Since(s.startTime).Seconds(); elapsed > 0 {
		p.CurrentRate = float64(p.ItemsProcessed) / elapsed
	}
	return p
}

func (r *Repository[B]) streamWorker(
	ctx context.Context,
	expr filter.Expr,
	options storagemodels.StreamOptions,
	resultCh chan<- storagemodels.StreamResult[B],
) {
	defer close(resultCh)

	state := &streamState{startTime: time.Now()}
	send := func(res storagemodels.StreamResult[B]) bool {
		select {
		case <-ctx.Done():
			return false
		case resultCh <- res:
			return true
		}
	}
	reportProgress := func(token string) {
		if options.ProgressHandler != nil {
			options.ProgressHandler(state.progress(token))
		}
	}

	translated, err := r.mapper.Translate(expr)
	if err != nil {
		send(storagemodels.StreamResult[B]{Error: err, Meta: state.meta()})
		return
	}
	c, err := r.client(ctx)
	if err != nil {
		send(storagemodels.StreamResult[B]{Error: err, Meta: state.meta()})
		return
	}
	params := &storagemodels.QueryParams{Filter: translated, Top: datastore.PageLimit(options.PageSize)}

	for {
		if ctx.Err() != nil {
			return
		}

		page, err := r.queryWithRetry(ctx, c, params, options)
		if err != nil {
			if ctx.Err() == nil {
				send(storagemodels.StreamResult[B]{Error: fmt.Errorf("stream %s: %w", r.table, err), Meta: state.meta()})
			}
			return
		}
		state.page++

		for _, e := range page.Entities {
			item, err := r.fromEntity(e)
			res := storagemodels.StreamResult[B]{Item: item, Raw: e, Error: err, Meta: state.meta()}
			state.index++
			if !send(res) {
				return
			}
			if err != nil {
				state.errors = append(state.errors, err)
				if options.ErrorHandler == nil || !options.ErrorHandler(err) {
					reportProgress(page.ContinuationToken)
					return
				}
			}
		}

		reportProgress(page.ContinuationToken)
		if page.ContinuationToken == "" {
			return
		}
		params.ContinuationToken = page.ContinuationToken
	}
}

// queryWithRetry reads one page, backing off linearly between attempts.
func (r *Repository[B]) queryWithRetry(
	ctx context.Context,
	c datastore.TableClient,
	params *storagemodels.QueryParams,
	options storagemodels.StreamOptions,
) (*storagemodels.Page, error) {
	var lastErr error
	for attempt := 0; attempt <= options.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := c.Query(ctx, params)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !r.retryable(err) {
			return nil, err
		}

		if attempt < options.MaxRetries {
			backoff := time.Duration(attempt+1) * options.RetryBackoff
			r.logger.Debug("retrying page read",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("query failed after %d retries: %w", options.MaxRetries, lastErr)
}
