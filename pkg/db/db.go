package db

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"chatcore/config"
)

//go:embed schema.sql
var schemaFS embed.FS

var DB *sql.DB

// InitDB opens the pool and pings it once so startup fails fast on a bad DSN
// instead of on the first query.
func InitDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=UTC",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.Charset,
	)

	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	DB = sqlDB
	return sqlDB, nil
}

// GetDB returns the process-wide pool set up by InitDB.
func GetDB() *sql.DB {
	return DB
}

// CloseDB closes the process-wide pool, if any.
func CloseDB() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

// HealthCheck is used by the admin surface's /readyz route.
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	return DB.Ping()
}

// Migrate applies schema.sql when cfg.InitMode is "schema". It is a no-op
// (mode "never") when an operator manages the schema out of band.
func Migrate(cfg config.DatabaseConfig) error {
	if cfg.InitMode != "schema" {
		return nil
	}
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	ddl, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}

	for _, stmt := range splitStatements(string(ddl)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := DB.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var stmts []string
	var cur []byte
	for i := 0; i < len(script); i++ {
		c := script[i]
		cur = append(cur, c)
		if c == ';' {
			stmts = append(stmts, string(cur))
			cur = nil
		}
	}
	if len(cur) > 0 {
		stmts = append(stmts, string(cur))
	}
	return stmts
}
