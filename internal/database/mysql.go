package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
)

type Database struct {
	DB     *sql.DB
	Config config.DatabaseConnection
}

func NewDatabase(cfg config.DatabaseConnection) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	logger.Log.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return &Database{
		DB:     db,
		Config: cfg,
	}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// UpdateLatest sets fields on the row where pk = id, but only when the
// row's timestamp column is not newer than local. The read and the write
// run in one transaction with the row locked, so a concurrent server-side
// write cannot slip between them. A missing row counts as stale and the
// update is applied. Returns whether the update was applied.
func (d *Database) UpdateLatest(ctx context.Context, table, pk string, id interface{}, column string, local time.Time, fields map[string]interface{}) (bool, error) {
	for _, ident := range []string{table, pk, column} {
		if !validIdentifier(ident) {
			return false, fmt.Errorf("invalid identifier %q", ident)
		}
	}
	query, args, err := buildUpdate(table, pk, id, fields)
	if err != nil {
		return false, err
	}
	read := fmt.Sprintf("SELECT `%s` FROM `%s` WHERE `%s` = ? FOR UPDATE", column, table, pk)

	applied := false
	err = d.ExecTx(ctx, func(tx *sql.Tx) error {
		var server time.Time
		scanErr := tx.QueryRowContext(ctx, read, id).Scan(&server)
		if scanErr != nil && scanErr != sql.ErrNoRows {
			return fmt.Errorf("failed to read %s.%s: %w", table, column, scanErr)
		}
		if scanErr == nil && server.After(local) {
			return nil
		}
		if _, execErr := tx.ExecContext(ctx, query, args...); execErr != nil {
			return fmt.Errorf("failed to update %s: %w", table, execErr)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Insert writes a new row. Record keys are column names.
func (d *Database) Insert(ctx context.Context, table string, record map[string]interface{}) error {
	query, args, err := buildInsert(table, record)
	if err != nil {
		return err
	}
	if _, err := d.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

// Update sets fields on the row where pk = id.
func (d *Database) Update(ctx context.Context, table, pk string, id interface{}, fields map[string]interface{}) error {
	query, args, err := buildUpdate(table, pk, id, fields)
	if err != nil {
		return err
	}
	if _, err := d.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	return nil
}

// Delete removes the row where pk = id.
func (d *Database) Delete(ctx context.Context, table, pk string, id interface{}) error {
	query, err := buildDelete(table, pk)
	if err != nil {
		return err
	}
	if _, err := d.DB.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// RowTimestamp reads the timestamp column of the row where pk = id. The
// second return value reports whether the row exists.
func (d *Database) RowTimestamp(ctx context.Context, table, pk string, id interface{}, column string) (time.Time, bool, error) {
	for _, ident := range []string{table, pk, column} {
		if !validIdentifier(ident) {
			return time.Time{}, false, fmt.Errorf("invalid identifier %q", ident)
		}
	}
	query := fmt.Sprintf("SELECT `%s` FROM `%s` WHERE `%s` = ?", column, table, pk)

	var ts time.Time
	err := d.DB.QueryRowContext(ctx, query, id).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read %s.%s: %w", table, column, err)
	}
	return ts, true, nil
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// sortedColumns gives statements a deterministic shape.
func sortedColumns(m map[string]interface{}) ([]string, error) {
	cols := make([]string, 0, len(m))
	for c := range m {
		if !validIdentifier(c) {
			return nil, fmt.Errorf("invalid column name %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, nil
}

func buildInsert(table string, record map[string]interface{}) (string, []interface{}, error) {
	if !validIdentifier(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	if len(record) == 0 {
		return "", nil, fmt.Errorf("insert into %s with no columns", table)
	}
	cols, err := sortedColumns(record)
	if err != nil {
		return "", nil, err
	}

	quoted := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		quoted[i] = "`" + c + "`"
		holders[i] = "?"
		args[i] = record[c]
	}

	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		table, strings.Join(quoted, ", "), strings.Join(holders, ", "))
	return query, args, nil
}

func buildUpdate(table, pk string, id interface{}, fields map[string]interface{}) (string, []interface{}, error) {
	if !validIdentifier(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	if !validIdentifier(pk) {
		return "", nil, fmt.Errorf("invalid column name %q", pk)
	}
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("update %s with no columns", table)
	}
	cols, err := sortedColumns(fields)
	if err != nil {
		return "", nil, err
	}

	assigns := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols)+1)
	for i, c := range cols {
		assigns[i] = "`" + c + "` = ?"
		args = append(args, fields[c])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE `%s` SET %s WHERE `%s` = ?",
		table, strings.Join(assigns, ", "), pk)
	return query, args, nil
}

func buildDelete(table, pk string) (string, error) {
	if !validIdentifier(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	if !validIdentifier(pk) {
		return "", fmt.Errorf("invalid column name %q", pk)
	}
	return fmt.Sprintf("DELETE FROM `%s` WHERE `%s` = ?", table, pk), nil
}
