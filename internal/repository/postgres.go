package repository

import (
	"database/sql"
	"fmt"

	"github.com/opensource-finance/fraudguard/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens a PostgreSQL database connection.
// A postgres:// URL in cfg.PostgresURL is used as is.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn := cfg.PostgresURL
	if dsn == "" {
		dsn = buildPostgresDSN(cfg)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

func buildPostgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}

	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "fraudguard"
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host,
		port,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		dbname,
		getSSLMode(cfg.PostgresSSLMode),
	)
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
