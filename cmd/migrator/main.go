package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// накатывает таблицу widget_kv для storage.driver=postgres,
// sqlite создаёт её сам при открытии
func main() {
	var (
		databaseURL     string
		migrationsPath  string
		migrationsTable string
		down            bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL")
	flag.StringVar(&migrationsPath, "migrations-path", "./migrations", "path to migrations")
	flag.StringVar(&migrationsTable, "migrations-table", "widget_migrations", "name of migrations table")
	flag.BoolVar(&down, "down", false, "roll back all migrations")
	flag.Parse()

	if databaseURL == "" {
		panic("database-url is required")
	}

	separator := "?"
	if strings.Contains(databaseURL, "?") {
		separator = "&"
	}
	dsn := fmt.Sprintf("%s%sx-migrations-table=%s", databaseURL, separator, migrationsTable)

	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		panic(err)
	}
	defer m.Close()

	apply := m.Up
	if down {
		apply = m.Down
	}

	if err := apply(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no migrations to apply")
			return
		}
		panic(err)
	}

	fmt.Println("migrations applied successfully")
}
