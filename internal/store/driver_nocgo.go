//go:build !cgo

package store

import (
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// driverName selects the pure-Go driver so cross-compiled builds work
// without a C toolchain.
const driverName = "sqlite"
