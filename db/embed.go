// Package db embeds the SQL schema the service applies at startup.
package db

import _ "embed"

// Schema holds the DDL for the offers, redemption ledger, products, orders,
// and api_keys tables. All statements are idempotent so startup can re-apply
// them safely.
//
//go:embed migrations/001_schema.sql
var Schema string
