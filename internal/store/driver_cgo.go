//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// driverName selects the cgo-backed driver when cgo is available.
const driverName = "sqlite3"
