// Package db provides the embedded PostgreSQL schema.
package db

import _ "embed"

// Schema contains the DDL statements for the orders and api_keys tables.
// Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
