package auth

import (
	"github.com/alexedwards/scs/postgresstore"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/pedro17pedroo/tatucloudfile/internal/config"
	"gorm.io/gorm"
)

// NewSessionManager creates and configures an scs session manager backed by
// the application database.
func NewSessionManager(db *gorm.DB, cfg *config.Config) (*scs.SessionManager, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.SessionDuration
	sessionManager.Cookie.Name = "session_token"
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = 3 // Strict
	sessionManager.Cookie.Secure = cfg.Env == "production"

	switch cfg.DBType {
	case "postgres":
		sessionManager.Store = postgresstore.New(sqlDB)
	case "sqlite":
		sessionManager.Store = sqlite3store.New(sqlDB)
	default:
		// Memory store from scs.New(); fine for tests, not for production.
	}

	return sessionManager, nil
}
