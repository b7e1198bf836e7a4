package ctl

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/account"
	"clubhouse/cmd/internal/auth/session"
)

func postgresAccounts(pool *pgxpool.Pool, schema string) (*account.Service, error) {
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewPostgresStore(pool, session.WithSchema(schema))
	if err != nil {
		return nil, err
	}
	return newAccounts(users, sessions)
}
