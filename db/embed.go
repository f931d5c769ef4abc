// Package db embeds the database schema.
package db

import _ "embed"

// Schema holds the DDL for orders, discount codes, customers and their
// loyalty history. Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
