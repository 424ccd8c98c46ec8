/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/mapping"
	"github.com/suparena/tablestore/storagemodels"
)

// Insert stores entity. It fails with AlreadyExists when the key is taken.
// The returned value carries the new ETag and timestamp.
func (r *Repository[B]) Insert(ctx context.Context, entity B) (B, error) {
	return r.write(ctx, entity, func(c datastore.TableClient, e *storagemodels.Entity) (*storagemodels.Entity, error) {
		return c.Insert(ctx, e)
	})
}

// Upsert stores entity, replacing whatever is stored under its key.
func (r *Repository[B]) Upsert(ctx context.Context, entity B) (B, error) {
	return r.write(ctx, entity, func(c datastore.TableClient, e *storagemodels.Entity) (*storagemodels.Entity, error) {
		return c.Upsert(ctx, e, storagemodels.UpdateModeReplace)
	})
}

// Replace overwrites the stored entity. When B carries an ETag it must match
// the stored one.
func (r *Repository[B]) Replace(ctx context.Context, entity B) (B, error) {
	return r.write(ctx, entity, func(c datastore.TableClient, e *storagemodels.Entity) (*storagemodels.Entity, error) {
		return c.Update(ctx, e, storagemodels.UpdateModeReplace, e.ETag)
	})
}

// Merge writes the properties of entity over the stored ones, keeping stored
// properties entity does not set. When B carries an ETag it must match.
func (r *Repository[B]) Merge(ctx context.Context, entity B) (B, error) {
	return r.write(ctx, entity, func(c datastore.TableClient, e *storagemodels.Entity) (*storagemodels.Entity, error) {
		return c.Update(ctx, e, storagemodels.UpdateModeMerge, e.ETag)
	})
}

func (r *Repository[B]) write(ctx context.Context, entity B, fn func(datastore.TableClient, *storagemodels.Entity) (*storagemodels.Entity, error)) (B, error) {
	var zero B
	e, err := r.mapper.ToEntity(entity)
	if err != nil {
		return zero, err
	}
	c, err := r.client(ctx)
	if err != nil {
		return zero, err
	}
	written, err := fn(c, e)
	if err != nil {
		return zero, err
	}
	return r.fromEntity(written)
}

// Update replaces the entity stored under previous with entity, moving it
// when its key has changed. It fails with NotFound when nothing is stored
// under previous.
func (r *Repository[B]) Update(ctx context.Context, previous storagemodels.Key, entity B) (B, error) {
	return r.move(ctx, previous, entity, false)
}

// UpsertFrom is Update for callers that do not know whether previous still
// exists: a missing previous entity is not an error and entity is upserted.
func (r *Repository[B]) UpsertFrom(ctx context.Context, previous storagemodels.Key, entity B) (B, error) {
	return r.move(ctx, previous, entity, true)
}

func (r *Repository[B]) move(ctx context.Context, previous storagemodels.Key, entity B, upsert bool) (B, error) {
	var zero B
	e, err := r.mapper.ToEntity(entity)
	if err != nil {
		return zero, err
	}
	if previous.IsZero() || previous == e.Key {
		if upsert {
			return r.Upsert(ctx, entity)
		}
		return r.Replace(ctx, entity)
	}
	if err := mapping.ValidateKey(previous); err != nil {
		return zero, err
	}

	c, err := r.client(ctx)
	if err != nil {
		return zero, err
	}
	if previous.PartitionKey == e.PartitionKey {
		err = r.moveRow(ctx, c, previous, e, upsert)
	} else {
		err = r.movePartition(ctx, c, previous, e, upsert)
	}
	if err != nil {
		return zero, err
	}
	stored, err := c.Get(ctx, e.Key)
	if err != nil {
		return zero, fmt.Errorf("read back %s: %w", e.Key, err)
	}
	return r.fromEntity(stored)
}

// moveRow rekeys within a partition in one transaction.
func (r *Repository[B]) moveRow(ctx context.Context, c datastore.TableClient, previous storagemodels.Key, e *storagemodels.Entity, upsert bool) error {
	create := storagemodels.TransactionAdd
	if upsert {
		create = storagemodels.TransactionUpsertReplace
	}
	old := storagemodels.NewEntity(previous.PartitionKey, previous.RowKey)
	err := c.Submit(ctx, []storagemodels.TransactionAction{
		{Type: storagemodels.TransactionDelete, Entity: old, ETag: e.ETag},
		{Type: create, Entity: e},
	})
	if err != nil && upsert && errors.IsNotFound(err) {
		_, err = c.Upsert(ctx, e, storagemodels.UpdateModeReplace)
		return err
	}
	if err != nil {
		return err
	}
	r.logger.Info("row key changed",
		zap.String("from", previous.String()),
		zap.String("to", e.Key.String()))
	return nil
}

// movePartition deletes the previous entity and recreates it under the new
// key. If recreating fails the previous entity is restored.
func (r *Repository[B]) movePartition(ctx context.Context, c datastore.TableClient, previous storagemodels.Key, e *storagemodels.Entity, upsert bool) error {
	old, err := c.Get(ctx, previous)
	switch {
	case err == nil:
	case upsert && errors.IsNotFound(err):
		_, err = c.Upsert(ctx, e, storagemodels.UpdateModeReplace)
		return err
	default:
		return err
	}

	// without a caller ETag, guard with the snapshot a restore would write back
	etag := e.ETag
	if etag == "" {
		etag = old.ETag
	}
	if err := c.Delete(ctx, previous, etag); err != nil {
		if upsert && errors.IsNotFound(err) {
			_, err = c.Upsert(ctx, e, storagemodels.UpdateModeReplace)
		}
		return err
	}

	if upsert {
		_, err = c.Upsert(ctx, e, storagemodels.UpdateModeReplace)
	} else {
		_, err = c.Insert(ctx, e)
	}
	if err != nil {
		if _, restoreErr := c.Insert(ctx, old); restoreErr != nil {
			r.logger.Error("failed to restore entity after partition move",
				zap.String("from", previous.String()),
				zap.String("to", e.Key.String()),
				zap.Error(restoreErr))
			return fmt.Errorf("move %s to %s: %w (restore failed: %v)", previous, e.Key, err, restoreErr)
		}
		r.logger.Warn("partition move rolled back",
			zap.String("from", previous.String()),
			zap.String("to", e.Key.String()),
			zap.Error(err))
		return fmt.Errorf("move %s to %s: %w", previous, e.Key, err)
	}

	r.logger.Info("partition key changed",
		zap.String("from", previous.String()),
		zap.String("to", e.Key.String()))
	return nil
}

// Delete removes entity. When B carries an ETag it must match.
func (r *Repository[B]) Delete(ctx context.Context, entity B) error {
	e, err := r.mapper.ToEntity(entity)
	if err != nil {
		return err
	}
	c, err := r.client(ctx)
	if err != nil {
		return err
	}
	return c.Delete(ctx, e.Key, e.ETag)
}

// DeleteByKey removes whatever is stored under key.
func (r *Repository[B]) DeleteByKey(ctx context.Context, key storagemodels.Key) error {
	if err := mapping.ValidateKey(key); err != nil {
		return err
	}
	c, err := r.client(ctx)
	if err != nil {
		return err
	}
	return c.Delete(ctx, key, "")
}

// InsertBatch inserts entities with one transaction per partition and per
// storagemodels.MaxTransactionActions entities. Transactions are submitted in
// order of first appearance; a failure stops the batch, leaving earlier
// transactions committed.
func (r *Repository[B]) InsertBatch(ctx context.Context, entities []B) error {
	if len(entities) == 0 {
		return nil
	}
	var order []string
	groups := make(map[string][]storagemodels.TransactionAction)
	for i, entity := range entities {
		e, err := r.mapper.ToEntity(entity)
		if err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		if _, seen := groups[e.PartitionKey]; !seen {
			order = append(order, e.PartitionKey)
		}
		groups[e.PartitionKey] = append(groups[e.PartitionKey], storagemodels.TransactionAction{
			Type:   storagemodels.TransactionAdd,
			Entity: e,
		})
	}

	c, err := r.client(ctx)
	if err != nil {
		return err
	}
	committed := 0
	for _, pk := range order {
		actions := groups[pk]
		for start := 0; start < len(actions); start += storagemodels.MaxTransactionActions {
			end := min(start+storagemodels.MaxTransactionActions, len(actions))
			if err := c.Submit(ctx, actions[start:end]); err != nil {
				return fmt.Errorf("partition %q, entities %d-%d (%d already committed): %w", pk, start, end-1, committed, err)
			}
			committed += end - start
		}
	}
	r.logger.Debug("batch inserted",
		zap.Int("entities", committed),
		zap.Int("partitions", len(order)))
	return nil
}
