// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"loan-catalog/internal/common/config"

	_ "github.com/lib/pq"
)

// activeSchemesQuery reads the curated dataset. payload holds one scheme as
// a JSON document.
const activeSchemesQuery = `SELECT id, payload FROM loan_schemes WHERE active = true ORDER BY id`

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres creates a new PostgreSQL client
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// NewPostgresFromDB wraps an existing handle, e.g. a sqlmock connection.
func NewPostgresFromDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{DB: db}
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// ActiveLoanSchemes returns the payload of every active scheme row. A row
// whose payload is not a JSON object is returned as nil so the validator
// can count it as invalid.
func (c *PostgresClient) ActiveLoanSchemes(ctx context.Context) ([]map[string]interface{}, error) {
	rows, err := c.DB.QueryContext(ctx, activeSchemesQuery)
	if err != nil {
		return nil, fmt.Errorf("query loan_schemes: %w", err)
	}
	defer rows.Close()

	var schemes []map[string]interface{}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan loan_schemes: %w", err)
		}
		var scheme map[string]interface{}
		if err := json.Unmarshal(payload, &scheme); err != nil {
			schemes = append(schemes, nil)
			continue
		}
		if _, ok := scheme["id"]; !ok && scheme != nil {
			scheme["id"] = id
		}
		schemes = append(schemes, scheme)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loan_schemes: %w", err)
	}
	return schemes, nil
}
