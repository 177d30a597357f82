// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the idempotent DDL for products, coupons, orders, order items,
// payments and the order status history.
//
//go:embed migrations/001_schema.sql
var Schema string
