// Package migrations embeds the Postgres schema and seed files.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var schema embed.FS

//go:embed seeds/*.sql
var seeds embed.FS

// Schema returns the migration files at the root of the returned FS.
func Schema() fs.FS {
	sub, err := fs.Sub(schema, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the seed files at the root of the returned FS.
func Seeds() fs.FS {
	sub, err := fs.Sub(seeds, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
