package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/server/repositories/checkpoints"
	"github.com/dmitrijs2005/medvault/internal/server/repositories/grants"
	"github.com/dmitrijs2005/medvault/internal/server/repositories/registry"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Grants(db dbx.DBTX) grants.Repository
	Registry(db dbx.DBTX) registry.Repository
	Checkpoints(db dbx.DBTX) checkpoints.Repository
}
