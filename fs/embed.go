// Package appfs embeds the database migrations & seed data shipped with the binaries.
package appfs

import "embed"

//go:embed migrations/*.sql seeds/*.yaml
var FS embed.FS

const (
	MigrationsDir          = "migrations"
	CertificationTypesSeed = "seeds/certification_types.yaml"
)
