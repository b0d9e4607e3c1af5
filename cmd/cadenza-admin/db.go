package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cadenzahq/cadenza/pkg/configuration"
)

func connectPool(ctx context.Context) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, configuration.Use().Database.Opts)
}

func connectSqlx() (*sqlx.DB, error) {
	return sqlx.Connect("pgx", configuration.Use().Database.Opts)
}
