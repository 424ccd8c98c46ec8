// Package repository reads and writes business entities through a mapper and
// a per-table client source.
//
// Filters use the business field names of B and are translated to storage
// property names before they reach the backend. Updates that change an
// entity's key move it: a row key change within a partition is a single
// transaction, a partition change is a delete followed by a recreate that
// restores the previous entity when the recreate fails.
package repository
