package postgres

import (
	"github.com/upb/request-shield/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory hands out repositories bound to one pool
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory creates a factory for db
func NewRepositoryFactory(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// Sessions returns the session store
func (f *RepositoryFactory) Sessions() repositories.SessionRepository {
	return NewSessionRepository(f.db, f.logger)
}

// SecurityEvents returns the audit trail store
func (f *RepositoryFactory) SecurityEvents() repositories.SecurityEventRepository {
	return NewSecurityEventRepository(f.db, NewTxManager(f.db, f.logger), f.logger)
}

// DB returns the underlying pool
func (f *RepositoryFactory) DB() *DB {
	return f.db
}
