// Package warehouse is the gold zone boundary: connection management,
// table DDL and atomic partition swaps against the cloud warehouse over
// database/sql.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/snowflakedb/gosnowflake"

	"lakeloader/internal/facts"
	"lakeloader/internal/observability"
	"lakeloader/internal/registry"
	"lakeloader/pkg/errors"
)

// Config holds warehouse connection configuration
type Config struct {
	Account   string
	Username  string
	Password  string
	Database  string
	Schema    string
	Warehouse string
	Role      string
	Timeout   time.Duration
}

// Service provides warehouse operations. It implements facts.Swapper so
// the fact loader can stage and switch partitions through it.
type Service struct {
	db        *sql.DB
	config    Config
	registry  *registry.Registry
	logger    *observability.Logger
	connected bool
}

// NewService creates a warehouse service bound to the registered tables
func NewService(config Config, reg *registry.Registry, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Default()
	}
	return &Service{
		config:   config,
		registry: reg,
		logger:   logger.WithField("component", "warehouse"),
	}
}

// Connect establishes a connection to the warehouse with retry
func (s *Service) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	return errors.RetryWithBackoff(ctx, func(ctx context.Context) error {
		dsn := fmt.Sprintf("%s:%s@%s/%s/%s?warehouse=%s&role=%s",
			s.config.Username,
			s.config.Password,
			s.config.Account,
			s.config.Database,
			s.config.Schema,
			s.config.Warehouse,
			s.config.Role,
		)

		db, err := sql.Open("snowflake", dsn)
		if err != nil {
			return errors.ConnectionError("Failed to open warehouse connection", err).
				WithContext("account", s.config.Account).
				WithContext("warehouse", s.config.Warehouse)
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(10 * time.Minute)

		pingCtx, cancel := s.opContext(ctx)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			db.Close()

			if strings.Contains(err.Error(), "authentication") {
				return errors.New(errors.ErrCodeAuthenticationFailed, "Authentication failed").
					WithContext("user", s.config.Username).
					WithSuggestions(
						"Verify your username and password",
						"Check if your account is locked",
					)
			}

			return errors.ConnectionError("Failed to connect to warehouse", err).
				WithContext("account", s.config.Account).
				AsRecoverable()
		}

		s.db = db
		s.connected = true
		return nil
	})
}

// Close closes the database connection
func (s *Service) Close() error {
	if !s.connected {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	s.connected = false
	return nil
}

func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return context.WithTimeout(ctx, timeout)
}

// EnsureTable creates a registered table when it does not exist yet
func (s *Service) EnsureTable(ctx context.Context, name string) error {
	if !s.connected {
		return errors.New(errors.ErrCodeConnectionFailed, "Not connected to warehouse").
			WithSuggestions("Call Connect() before executing SQL")
	}

	desc, err := s.registry.Describe(name)
	if err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	ddl := CreateTableSQL(desc)
	if _, err := s.db.ExecContext(opCtx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLExecution,
			fmt.Sprintf("Failed to create table %s", name)).
			WithContext("table", name)
	}

	s.logger.InfoWithFields("ensured table", map[string]interface{}{"table": name})
	return nil
}

// SwapPartition implements facts.Swapper. Rows are written to a fresh
// stage table and switched into the target partition in one statement;
// on any failure the stage is dropped and the target partition keeps its
// prior contents.
func (s *Service) SwapPartition(ctx context.Context, table string, partition int, rows []facts.Record) error {
	if !s.connected {
		return errors.New(errors.ErrCodeConnectionFailed, "Not connected to warehouse").
			WithSuggestions("Call Connect() before executing SQL")
	}

	desc, err := s.registry.Describe(table)
	if err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(opCtx, createStageSQL(table, partition)); err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLExecution,
			fmt.Sprintf("Failed to create stage for %s partition %d", table, partition)).
			WithContext("table", table).
			WithContext("partition", partition)
	}

	swapErr := s.stageAndSwitch(opCtx, desc, partition, rows)

	// Stage cleanup runs regardless of the swap outcome
	if _, err := s.db.ExecContext(opCtx, dropStageSQL(table, partition)); err != nil {
		s.logger.WarnWithFields("failed to drop stage table", map[string]interface{}{
			"table":     table,
			"partition": partition,
			"error":     err.Error(),
		})
	}

	if swapErr != nil {
		return swapErr
	}

	s.logger.InfoWithFields("partition swapped", map[string]interface{}{
		"table":     table,
		"partition": partition,
		"rows":      len(rows),
	})
	return nil
}

func (s *Service) stageAndSwitch(ctx context.Context, desc registry.TableDescriptor, partition int, rows []facts.Record) error {
	if len(rows) > 0 {
		columns := make([]string, 0, len(desc.Columns))
		for _, c := range desc.Columns {
			columns = append(columns, c.Name)
		}

		args := make([]interface{}, 0, len(rows)*len(columns))
		for _, row := range rows {
			for _, col := range columns {
				v, _ := row.Attribute(col)
				args = append(args, v)
			}
		}

		query := insertStageSQL(desc.Name, partition, columns, len(rows))
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, errors.ErrCodeSQLExecution,
				fmt.Sprintf("Failed to stage rows for %s partition %d", desc.Name, partition)).
				WithContext("table", desc.Name).
				WithContext("partition", partition)
		}
	}

	if _, err := s.db.ExecContext(ctx, switchPartitionSQL(desc.Name, partition)); err != nil {
		return errors.PartitionSwapError(desc.Name, partition, err)
	}
	return nil
}

// WithDB injects an existing database handle, used by tests
func (s *Service) WithDB(db *sql.DB) *Service {
	s.db = db
	s.connected = true
	return s
}
