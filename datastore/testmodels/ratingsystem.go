/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package testmodels holds business types shared by tests.
package testmodels

import "github.com/go-openapi/strfmt"

// RatingSystemPartition is the partition key template every rating system
// is stored under.
const RatingSystemPartition = "RATING_SYSTEMS"

type RatingSystem struct {

	// Timestamp when the rating system was created.
	// Required: true
	// Format: date-time
	CreatedAt *strfmt.DateTime `json:"CreatedAt"`

	// A description of the rating system.
	// Required: true
	Description *string `json:"Description"`

	// Unique identifier for the rating system.
	// Required: true
	ID *string `json:"Id" table:"Id,rowkey"`

	// Name of the rating system.
	// Required: true
	Name *string `json:"Name"`

	// site Url
	SiteURL string `json:"SiteUrl,omitempty" table:"SiteUrl,omitempty"`

	// Timestamp when the rating system was last updated.
	// Required: true
	// Format: date-time
	UpdatedAt *strfmt.DateTime `json:"UpdatedAt" table:",timestamp"`

	// Concurrency token of the stored copy.
	ETag string `json:"-" table:",etag"`
}
