/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/suparena/tablestore"
	"github.com/suparena/tablestore/config"
	"github.com/suparena/tablestore/storagemodels"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	vFlag       = flag.Bool("v", false, "Show version information (short)")
	configPath  = flag.String("config", "", "YAML configuration file")
	listFlag    = flag.Bool("list", false, "List tables")
	createTable = flag.String("create", "", "Create a logical table")
	queryTable  = flag.String("query", "", "Query a logical table")
	filterText  = flag.String("filter", "", "OData filter for -query")
	top         = flag.Int("top", 100, "Entities per page for -query")
	token       = flag.String("token", "", "Continuation token for -query")
)

func main() {
	flag.Parse()

	if *versionFlag || *vFlag {
		info := tablestore.GetVersionInfo()
		fmt.Printf("tablestore version %s\n", info.Version)
		fmt.Printf("Git commit: %s\n", info.GitCommit)
		fmt.Printf("Build date: %s\n", info.BuildDate)
		fmt.Printf("Go version: %s\n", info.GoVersion)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := tablestore.Open(ctx, cfg, tablestore.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	switch {
	case *listFlag:
		tables, err := store.Service().ListTables(ctx)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, tables)
	case *createTable != "":
		return store.EnsureTables(ctx, *createTable)
	case *queryTable != "":
		return query(ctx, store, logger)
	}
	flag.Usage()
	return nil
}

func query(ctx context.Context, store *tablestore.Store, logger *zap.Logger) error {
	client, err := store.Client(ctx, *queryTable)
	if err != nil {
		return err
	}
	page, err := client.Query(ctx, &storagemodels.QueryParams{
		RawFilter:         *filterText,
		Top:               int32(*top),
		ContinuationToken: *token,
	})
	if err != nil {
		return err
	}
	logger.Debug("query finished",
		zap.String("table", store.TableName(*queryTable)),
		zap.Int("entities", len(page.Entities)))

	out := struct {
		Entities          []map[string]any `json:"entities"`
		ContinuationToken string           `json:"continuationToken,omitempty"`
	}{
		Entities:          make([]map[string]any, 0, len(page.Entities)),
		ContinuationToken: page.ContinuationToken,
	}
	for _, e := range page.Entities {
		out.Entities = append(out.Entities, flatten(e))
	}
	return writeJSON(os.Stdout, out)
}

// flatten lays out system and custom properties side by side.
func flatten(e *storagemodels.Entity) map[string]any {
	m := make(map[string]any, len(e.Properties)+4)
	for name, v := range e.Properties {
		m[name] = v
	}
	m[storagemodels.PartitionKeyProperty] = e.PartitionKey
	m[storagemodels.RowKeyProperty] = e.RowKey
	m[storagemodels.TimestampProperty] = e.Timestamp
	m[storagemodels.ETagProperty] = e.ETag
	return m
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
