package credential

import (
	"embed"
	"io/fs"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// Migrations returns the credential table migrations. Register them on
// the persistence client next to the directory migrations:
//
//	client, err := opspilot.NewPersistence(opts, credential.Migrations())
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "data/sql/migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
