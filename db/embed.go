// Package db embeds the database schema.
package db

import _ "embed"

// Schema creates the referral, redemption and api key tables. Every
// statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
