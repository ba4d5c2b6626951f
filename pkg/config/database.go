// pkg/config/database.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// WarehouseConfig holds connection parameters for the audited warehouse
type WarehouseConfig struct {
	User          string
	Password      string
	Account       string
	Warehouse     string
	Database      string
	Schema        string // Owning schema of the audited ETL tables
	Role          string
	Authenticator gosnowflake.AuthType

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Query timeout
	QueryTimeout time.Duration
}

// AuditStoreConfig holds connection parameters for the Postgres audit
// store (validation config/result tables and the purge fix queue)
type AuditStoreConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Statement timeout
	StatementTimeout time.Duration
}

// LoadWarehouseConfig loads warehouse configuration from environment variables
func LoadWarehouseConfig() (*WarehouseConfig, error) {
	user := os.Getenv("WAREHOUSE_USER")
	if user == "" {
		return nil, errors.New("WAREHOUSE_USER environment variable is required")
	}

	password := os.Getenv("WAREHOUSE_PASSWORD")
	if password == "" {
		return nil, errors.New("WAREHOUSE_PASSWORD environment variable is required")
	}

	account := os.Getenv("WAREHOUSE_ACCOUNT")
	if account == "" {
		return nil, errors.New("WAREHOUSE_ACCOUNT environment variable is required")
	}

	warehouse := os.Getenv("WAREHOUSE_COMPUTE")
	if warehouse == "" {
		return nil, errors.New("WAREHOUSE_COMPUTE environment variable is required")
	}

	// Convert authenticator string to proper type
	authString := getEnv("WAREHOUSE_AUTHENTICATOR", "snowflake")
	var authenticator gosnowflake.AuthType
	switch authString {
	case "snowflake":
		authenticator = gosnowflake.AuthTypeSnowflake
	case "oauth":
		authenticator = gosnowflake.AuthTypeOAuth
	case "externalbrowser":
		authenticator = gosnowflake.AuthTypeExternalBrowser
	case "username_password_mfa":
		authenticator = gosnowflake.AuthTypeUsernamePasswordMFA
	case "jwt":
		authenticator = gosnowflake.AuthTypeJwt
	case "token":
		authenticator = gosnowflake.AuthTypeTokenAccessor
	case "okta":
		authenticator = gosnowflake.AuthTypeOkta
	default:
		authenticator = gosnowflake.AuthTypeSnowflake
	}

	cfg := &WarehouseConfig{
		User:          user,
		Password:      password,
		Account:       account,
		Warehouse:     warehouse,
		Database:      getEnv("WAREHOUSE_DATABASE", "CAPS_WH"),
		Schema:        getEnv("WAREHOUSE_SCHEMA", "MDC"),
		Role:          getEnv("WAREHOUSE_ROLE", ""),
		Authenticator: authenticator,

		MaxOpenConns:    getEnvAsInt("WAREHOUSE_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("WAREHOUSE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: time.Duration(getEnvAsInt("WAREHOUSE_CONN_MAX_LIFETIME_SECONDS", 600)) * time.Second,
		ConnMaxIdleTime: time.Duration(getEnvAsInt("WAREHOUSE_CONN_MAX_IDLE_TIME_SECONDS", 300)) * time.Second,
		QueryTimeout:    time.Duration(getEnvAsInt("WAREHOUSE_QUERY_TIMEOUT_SECONDS", 300)) * time.Second,
	}

	return cfg, nil
}

// LoadAuditStoreConfig loads audit store configuration from environment variables
func LoadAuditStoreConfig() (*AuditStoreConfig, error) {
	user := os.Getenv("AUDIT_DB_USER")
	if user == "" {
		return nil, errors.New("AUDIT_DB_USER environment variable is required")
	}

	password := os.Getenv("AUDIT_DB_PASSWORD")
	if password == "" {
		return nil, errors.New("AUDIT_DB_PASSWORD environment variable is required")
	}

	database := os.Getenv("AUDIT_DB_NAME")
	if database == "" {
		return nil, errors.New("AUDIT_DB_NAME environment variable is required")
	}

	cfg := &AuditStoreConfig{
		Host:     getEnv("AUDIT_DB_HOST", "localhost"),
		Port:     getEnvAsInt("AUDIT_DB_PORT", 5432),
		User:     user,
		Password: password,
		Database: database,
		SSLMode:  getEnv("AUDIT_DB_SSLMODE", "disable"),

		MaxOpenConns:     getEnvAsInt("AUDIT_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("AUDIT_DB_MAX_IDLE_CONNS", 10),
		ConnMaxLifetime:  time.Duration(getEnvAsInt("AUDIT_DB_CONN_MAX_LIFETIME_SECONDS", 1800)) * time.Second,
		ConnMaxIdleTime:  time.Duration(getEnvAsInt("AUDIT_DB_CONN_MAX_IDLE_TIME_SECONDS", 600)) * time.Second,
		StatementTimeout: time.Duration(getEnvAsInt("AUDIT_DB_STATEMENT_TIMEOUT_SECONDS", 300)) * time.Second,
	}

	return cfg, nil
}

// ConnectionString returns a formatted warehouse DSN
func (c *WarehouseConfig) ConnectionString() string {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s?warehouse=%s",
		c.User,
		c.Password,
		c.Account,
		c.Database,
		c.Schema,
		c.Warehouse,
	)

	if c.Role != "" {
		dsn += "&role=" + c.Role
	}

	return dsn
}

// ConnectionString returns a formatted audit store connection string
func (c *AuditStoreConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
