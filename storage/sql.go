package storage

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// kvRow is the single backing table for SQLStore: a plain key/value table
// with the key's first segment (up to the first '/') kept in its own
// indexed Prefix column. Scan does not use that column; it runs a
// LIKE-prefix query on key. Repositories above this
// layer still own their own schema (users, requests, ...); this table is
// only the storage substrate, mirroring the role storage/db.go's MemDB
// plays for the in-memory backend.
type kvRow struct {
	Key       string `gorm:"primaryKey;size:512"`
	Prefix    string `gorm:"index;size:128"`
	Value     []byte `gorm:"type:bytea"`
	UpdatedAt time.Time
}

func (kvRow) TableName() string { return "stationd_kv" }

// SQLStore is a Database backed by gorm, used for durable deployments.
// Grounded on services/otc-gateway/models.AutoMigrate: a single
// migration entrypoint run once at startup, ahead of serving traffic.
type SQLStore struct {
	db *gorm.DB
}

// SQLDialect selects the gorm dialector.
type SQLDialect string

const (
	DialectPostgres SQLDialect = "postgres"
	DialectSQLite   SQLDialect = "sqlite"
)

// OpenSQLStore opens (and migrates) a SQLStore. dsn is a postgres
// connection string for DialectPostgres, or a file path (or ":memory:")
// for DialectSQLite.
func OpenSQLStore(dialect SQLDialect, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.New("storage: unknown sql dialect " + string(dialect))
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&kvRow{}); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func prefixOf(key string) string {
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		return key[:idx]
	}
	return key
}

func (s *SQLStore) Put(key []byte, value []byte) error {
	row := kvRow{
		Key:       string(key),
		Prefix:    prefixOf(string(key)),
		Value:     append([]byte(nil), value...),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Save(&row).Error
}

func (s *SQLStore) Get(key []byte) ([]byte, error) {
	var row kvRow
	err := s.db.Where("key = ?", string(key)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Value, nil
}

func (s *SQLStore) Delete(key []byte) error {
	return s.db.Where("key = ?", string(key)).Delete(&kvRow{}).Error
}

func (s *SQLStore) Scan(prefix []byte, fn func(key, value []byte) error) error {
	var rows []kvRow
	if err := s.db.Where("key LIKE ?", string(prefix)+"%").Order("key").Find(&rows).Error; err != nil {
		return err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	for _, row := range rows {
		if err := fn([]byte(row.Key), row.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
