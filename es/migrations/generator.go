package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Dialect names a supported SQL database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// CommitsTable is the name of the commits table
	CommitsTable string

	// SnapshotsTable is the name of the snapshots table
	SnapshotsTable string

	// StreamHeadsTable is the name of the stream head tracking table
	StreamHeadsTable string

	// CheckpointsTable is the name of the consumer checkpoints table
	CheckpointsTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:     "migrations",
		OutputFilename:   fmt.Sprintf("%s_init_commit_store.sql", timestamp),
		CommitsTable:     "commits",
		SnapshotsTable:   "snapshots",
		StreamHeadsTable: "stream_heads",
		CheckpointsTable: "consumer_checkpoints",
	}
}

// Generate writes the migration file for a dialect.
func Generate(dialect Dialect, config *Config) error {
	sql, err := SQL(dialect, config)
	if err != nil {
		return err
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error { return Generate(Postgres, config) }

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error { return Generate(SQLite, config) }

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error { return Generate(MySQL, config) }

// SQL returns the migration script for a dialect.
func SQL(dialect Dialect, config *Config) (string, error) {
	switch dialect {
	case Postgres:
		return generatePostgresSQL(config), nil
	case MySQL:
		return generateMySQLSQL(config), nil
	case SQLite:
		return generateSQLiteSQL(config), nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// Statements returns the migration for a dialect as individual statements,
// ready to be executed one by one. Every statement is idempotent.
func Statements(dialect Dialect, config *Config) ([]string, error) {
	sql, err := SQL(dialect, config)
	if err != nil {
		return nil, err
	}
	return Split(sql), nil
}

// DropStatements returns the statements that remove every table.
func DropStatements(config *Config) []string {
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", config.CommitsTable),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", config.SnapshotsTable),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", config.StreamHeadsTable),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", config.CheckpointsTable),
	}
}

// Split breaks a script into statements. Lines starting with -- are dropped.
// Statements must not contain semicolons inside literals.
func Split(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var statements []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

func generatePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Commit Store Migration
-- Generated: %s

-- Commits table stores every commit in append-only fashion.
-- checkpoint_number orders commits across all buckets and streams.
CREATE TABLE IF NOT EXISTS %s (
    checkpoint_number BIGSERIAL PRIMARY KEY,
    bucket_id TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    stream_revision BIGINT NOT NULL,
    items INT NOT NULL,
    commit_id UUID NOT NULL,
    commit_sequence BIGINT NOT NULL,
    commit_stamp BIGINT NOT NULL,
    headers BYTEA,
    payload BYTEA NOT NULL,

    -- Concurrency key
    UNIQUE (bucket_id, stream_id, commit_sequence),
    -- Idempotency key
    UNIQUE (bucket_id, stream_id, commit_id)
);

-- Index for stream range reads
CREATE INDEX IF NOT EXISTS idx_%s_stream_revision
    ON %s (bucket_id, stream_id, stream_revision);

-- Index for bucket reads by checkpoint
CREATE INDEX IF NOT EXISTS idx_%s_bucket_checkpoint
    ON %s (bucket_id, checkpoint_number);

-- Index for bucket reads by time
CREATE INDEX IF NOT EXISTS idx_%s_bucket_stamp
    ON %s (bucket_id, commit_stamp);

-- Snapshots table keeps every snapshot taken of a stream
CREATE TABLE IF NOT EXISTS %s (
    bucket_id TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    stream_revision BIGINT NOT NULL,
    payload BYTEA NOT NULL,

    PRIMARY KEY (bucket_id, stream_id, stream_revision)
);

-- Stream heads table tracks the head and latest snapshot revision of each stream
CREATE TABLE IF NOT EXISTS %s (
    bucket_id TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    head_revision BIGINT NOT NULL,
    snapshot_revision BIGINT NOT NULL DEFAULT 0,

    PRIMARY KEY (bucket_id, stream_id)
);

-- Consumer checkpoints table tracks progress of each named consumer
CREATE TABLE IF NOT EXISTS %s (
    consumer_name TEXT PRIMARY KEY,
    checkpoint_number BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
		time.Now().Format(time.RFC3339),
		config.CommitsTable,
		config.CommitsTable, config.CommitsTable,
		config.CommitsTable, config.CommitsTable,
		config.CommitsTable, config.CommitsTable,
		config.SnapshotsTable,
		config.StreamHeadsTable,
		config.CheckpointsTable,
	)
}

func generateSQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Commit Store Migration for SQLite
-- Generated: %s

-- Commits table stores every commit in append-only fashion.
-- AUTOINCREMENT keeps checkpoint numbers from being reused after a purge.
CREATE TABLE IF NOT EXISTS %s (
    checkpoint_number INTEGER PRIMARY KEY AUTOINCREMENT,
    bucket_id TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    stream_revision INTEGER NOT NULL,
    items INTEGER NOT NULL,
    commit_id TEXT NOT NULL,
    commit_sequence INTEGER NOT NULL,
    commit_stamp INTEGER NOT NULL,
    headers BLOB,
    payload BLOB NOT NULL,

    -- Concurrency key
    UNIQUE (bucket_id, stream_id, commit_sequence),
    -- Idempotency key
    UNIQUE (bucket_id, stream_id, commit_id)
);

-- Index for stream range reads
CREATE INDEX IF NOT EXISTS idx_%s_stream_revision
    ON %s (bucket_id, stream_id, stream_revision);

-- Index for bucket reads by checkpoint
CREATE INDEX IF NOT EXISTS idx_%s_bucket_checkpoint
    ON %s (bucket_id, checkpoint_number);

-- Index for bucket reads by time
CREATE INDEX IF NOT EXISTS idx_%s_bucket_stamp
    ON %s (bucket_id, commit_stamp);

-- Snapshots table keeps every snapshot taken of a stream
CREATE TABLE IF NOT EXISTS %s (
    bucket_id TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    stream_revision INTEGER NOT NULL,
    payload BLOB NOT NULL,

    PRIMARY KEY (bucket_id, stream_id, stream_revision)
);

-- Stream heads table tracks the head and latest snapshot revision of each stream
CREATE TABLE IF NOT EXISTS %s (
    bucket_id TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    head_revision INTEGER NOT NULL,
    snapshot_revision INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (bucket_id, stream_id)
);

-- Consumer checkpoints table tracks progress of each named consumer
CREATE TABLE IF NOT EXISTS %s (
    consumer_name TEXT PRIMARY KEY,
    checkpoint_number INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`,
		time.Now().Format(time.RFC3339),
		config.CommitsTable,
		config.CommitsTable, config.CommitsTable,
		config.CommitsTable, config.CommitsTable,
		config.CommitsTable, config.CommitsTable,
		config.SnapshotsTable,
		config.StreamHeadsTable,
		config.CheckpointsTable,
	)
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Commit Store Migration for MySQL/MariaDB
-- Generated: %s

-- Commits table stores every commit in append-only fashion.
-- Indexes are declared inline so the script can run repeatedly.
CREATE TABLE IF NOT EXISTS %s (
    checkpoint_number BIGINT AUTO_INCREMENT PRIMARY KEY,
    bucket_id VARCHAR(255) NOT NULL,
    stream_id VARCHAR(255) NOT NULL,
    stream_revision BIGINT NOT NULL,
    items INT NOT NULL,
    commit_id CHAR(36) NOT NULL,
    commit_sequence BIGINT NOT NULL,
    commit_stamp BIGINT NOT NULL,
    headers LONGBLOB,
    payload LONGBLOB NOT NULL,

    UNIQUE KEY uq_%s_sequence (bucket_id, stream_id, commit_sequence),
    UNIQUE KEY uq_%s_commit_id (bucket_id, stream_id, commit_id),
    INDEX idx_%s_stream_revision (bucket_id, stream_id, stream_revision),
    INDEX idx_%s_bucket_checkpoint (bucket_id, checkpoint_number),
    INDEX idx_%s_bucket_stamp (bucket_id, commit_stamp)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Snapshots table keeps every snapshot taken of a stream
CREATE TABLE IF NOT EXISTS %s (
    bucket_id VARCHAR(255) NOT NULL,
    stream_id VARCHAR(255) NOT NULL,
    stream_revision BIGINT NOT NULL,
    payload LONGBLOB NOT NULL,

    PRIMARY KEY (bucket_id, stream_id, stream_revision)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Stream heads table tracks the head and latest snapshot revision of each stream
CREATE TABLE IF NOT EXISTS %s (
    bucket_id VARCHAR(255) NOT NULL,
    stream_id VARCHAR(255) NOT NULL,
    head_revision BIGINT NOT NULL,
    snapshot_revision BIGINT NOT NULL DEFAULT 0,

    PRIMARY KEY (bucket_id, stream_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Consumer checkpoints table tracks progress of each named consumer
CREATE TABLE IF NOT EXISTS %s (
    consumer_name VARCHAR(255) PRIMARY KEY,
    checkpoint_number BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`,
		time.Now().Format(time.RFC3339),
		config.CommitsTable,
		config.CommitsTable, config.CommitsTable,
		config.CommitsTable, config.CommitsTable, config.CommitsTable,
		config.SnapshotsTable,
		config.StreamHeadsTable,
		config.CheckpointsTable,
	)
}
