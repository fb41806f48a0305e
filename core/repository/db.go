package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// DB wraps a *sql.DB connection pool shared by every repository in this
// package, following the receiver shape every repository file here expects.
type DB struct {
	*sql.DB
}

// NewDB opens and pings a Postgres connection pool at url.
func NewDB(url string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{DB: sqlDB}, nil
}
