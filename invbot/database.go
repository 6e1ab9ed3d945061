package invbot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// database wraps the GORM connection and implements DBI. In
// non-concurrent write mode (SQLite), a mutex serializes writes.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase initializes a new database instance. If log is nil, the
// default logger is used. enableConcurrentWrites should be false for
// SQLite and true for Postgres.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

// opContext ensures every store operation carries a deadline, so a
// hung store call fails with a storage-timeout rather than blocking
// the pipeline indefinitely.
func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) error {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// createRecord assigns the next sequence number for the kind and
// inserts the record in a single transaction: either the full record,
// including its sequence number, is durably written, or nothing is.
func (d *database) createRecord(
	ctx context.Context,
	kind RecordKind,
	setSequence func(sequenceNumber string),
	value any,
) error {
	err := d.Transaction(
		ctx, func(tx *gorm.DB) error {
			sequenceNumber, seqErr := nextSequenceNumber(tx, kind, time.Now().UTC())
			if seqErr != nil {
				return seqErr
			}
			setSequence(sequenceNumber)
			return tx.Create(value).Error
		},
	)
	if err != nil {
		d.logger.ErrorContext(
			ctx,
			"error creating record",
			tint.Err(err),
			"kind", kind.String(),
		)
		return mapStorageErr(err)
	}
	return nil
}

func (d *database) CreateDocument(ctx context.Context, doc *Document) error {
	if err := doc.validate(); err != nil {
		return err
	}
	return d.createRecord(
		ctx, RecordKindDocument, func(n string) { doc.SequenceNumber = n }, doc,
	)
}

func (d *database) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if err := inv.validate(); err != nil {
		return err
	}
	inv.ComputeTotals()
	return d.createRecord(
		ctx, RecordKindInvoice, func(n string) { inv.SequenceNumber = n }, inv,
	)
}

func (d *database) CreateReceipt(ctx context.Context, rec *Receipt) error {
	if err := rec.validate(); err != nil {
		return err
	}
	return d.createRecord(
		ctx, RecordKindReceipt, func(n string) { rec.SequenceNumber = n }, rec,
	)
}

func (d *database) GetDocument(ctx context.Context, id uint) (*Document, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	var doc Document
	if err := d.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		return nil, mapStorageErr(err)
	}
	return &doc, nil
}

func (d *database) GetInvoice(ctx context.Context, id uint) (*Invoice, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	var inv Invoice
	if err := d.db.WithContext(ctx).First(&inv, id).Error; err != nil {
		return nil, mapStorageErr(err)
	}
	return &inv, nil
}

func (d *database) GetReceipt(ctx context.Context, id uint) (*Receipt, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	var rec Receipt
	if err := d.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, mapStorageErr(err)
	}
	return &rec, nil
}

func (d *database) ListRecentDocuments(
	ctx context.Context,
	limit int,
	filter RecordFilter,
) ([]Document, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	var docs []Document
	tx := filter.apply(d.db.WithContext(ctx)).Order("id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&docs).Error; err != nil {
		return nil, mapStorageErr(err)
	}
	return docs, nil
}

func (d *database) ListRecentInvoices(
	ctx context.Context,
	limit int,
	filter RecordFilter,
) ([]Invoice, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	filter.DocumentType = ""
	var invoices []Invoice
	tx := filter.apply(d.db.WithContext(ctx)).Order("id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&invoices).Error; err != nil {
		return nil, mapStorageErr(err)
	}
	return invoices, nil
}

func (d *database) ListRecentReceipts(
	ctx context.Context,
	limit int,
	filter RecordFilter,
) ([]Receipt, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	filter.DocumentType = ""
	var receipts []Receipt
	tx := filter.apply(d.db.WithContext(ctx)).Order("id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&receipts).Error; err != nil {
		return nil, mapStorageErr(err)
	}
	return receipts, nil
}

// DBI defines the interface for record store operations. This is here
// primarily to enable mocking of the store for testing. [database]
// implements this interface for 'real' DB operations.
//
// Create operations validate the record, assign its id and sequence
// number, and persist it atomically. Get operations return ErrNotFound
// for unknown ids, never a partially-populated record. ListRecent
// operations return records ordered most-recent-first (id descending).
type DBI interface {
	DB() *gorm.DB

	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) error

	CreateDocument(ctx context.Context, doc *Document) error
	CreateInvoice(ctx context.Context, inv *Invoice) error
	CreateReceipt(ctx context.Context, rec *Receipt) error

	GetDocument(ctx context.Context, id uint) (*Document, error)
	GetInvoice(ctx context.Context, id uint) (*Invoice, error)
	GetReceipt(ctx context.Context, id uint) (*Receipt, error)

	ListRecentDocuments(ctx context.Context, limit int, filter RecordFilter) ([]Document, error)
	ListRecentInvoices(ctx context.Context, limit int, filter RecordFilter) ([]Invoice, error)
	ListRecentReceipts(ctx context.Context, limit int, filter RecordFilter) ([]Receipt, error)
}

// CreateDB initializes and returns a GORM database connection based
// on the specified database type ('sqlite' or 'postgres'), and
// auto-migrates the record tables.
func CreateDB(
	ctx context.Context,
	databaseType string,
	dsn string,
	handler slog.Handler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	gormLogger := newGORMLogger(handler, slowThreshold)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
		"database", dsn,
	)
	db, err := getDB(databaseType, dsn, gormLogger)
	if err != nil {
		return db, err
	}

	if databaseType == dbTypeSQLite {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return db, dbErr
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if execErr := db.Exec(pragma).Error; execErr != nil {
				return db, execErr
			}
		}
	}

	txn := db.WithContext(ctx).Begin()
	err = txn.Migrator().AutoMigrate(
		&Document{},
		&Invoice{},
		&Receipt{},
		&SequenceCounter{},
	)
	if err != nil {
		txn.Rollback()
		return db, err
	}
	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

func getDB(
	databaseType string,
	dsn string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(dsn)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(dsn),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(dsn), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
