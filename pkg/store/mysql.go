package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vpc-mesh/pkg/model"
)

// snapshotRow is one saved snapshot document. The newest row is the current snapshot.
type snapshotRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Regions   string    `gorm:"size:1024"`
	Document  string    `gorm:"type:longtext"`
	CreatedAt time.Time `gorm:"index"`
}

func (snapshotRow) TableName() string { return "mesh_snapshots" }

// GormStore keeps snapshots in MySQL. Every save appends a row; the row id is the version.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore connects to dsn, creating the database when it does not exist yet, and migrates
// the snapshot table.
func NewGormStore(dsn string, log zerolog.Logger) (*GormStore, error) {
	if dsn == "" {
		return nil, errors.New("store: mysql dsn is required")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil && strings.Contains(err.Error(), "Unknown database") {
		log.Info().Msg("snapshot database missing, creating it")
		if cerr := createDatabase(dsn); cerr != nil {
			return nil, fmt.Errorf("store: create database: %w", cerr)
		}
		db, err = gorm.Open(mysql.Open(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Save(ctx context.Context, s model.Snapshot) (model.Snapshot, error) {
	if err := validate(s); err != nil {
		return model.Snapshot{}, err
	}
	row, err := toRow(s)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Snapshot{}, fmt.Errorf("store: insert snapshot: %w", err)
	}
	return g.Load(ctx)
}

func (g *GormStore) Load(ctx context.Context) (model.Snapshot, error) {
	var row snapshotRow
	err := g.db.WithContext(ctx).Order("id desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("store: load snapshot: %w", err)
	}
	return fromRow(row)
}

func (g *GormStore) History(ctx context.Context, limit int) ([]model.Snapshot, error) {
	q := g.db.WithContext(ctx).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []snapshotRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	out := make([]model.Snapshot, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		s, err := fromRow(rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Rollback appends a copy of an earlier version so it becomes the current snapshot.
func (g *GormStore) Rollback(ctx context.Context, version int64) (model.Snapshot, error) {
	var row snapshotRow
	err := g.db.WithContext(ctx).First(&row, version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Snapshot{}, fmt.Errorf("%w: %d", ErrNoVersion, version)
	}
	if err != nil {
		return model.Snapshot{}, err
	}
	s, err := fromRow(row)
	if err != nil {
		return model.Snapshot{}, err
	}
	s.CreatedAt = time.Time{}
	return g.Save(ctx, s)
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(s model.Snapshot) (snapshotRow, error) {
	doc, err := EncodeDocument(s)
	if err != nil {
		return snapshotRow{}, err
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return snapshotRow{
		Regions:   strings.Join(s.Regions(), ","),
		Document:  string(doc),
		CreatedAt: created,
	}, nil
}

func fromRow(row snapshotRow) (model.Snapshot, error) {
	s, err := DecodeDocument([]byte(row.Document))
	if err != nil {
		return model.Snapshot{}, err
	}
	s.Version = row.ID
	s.CreatedAt = row.CreatedAt.UTC()
	return s, nil
}

func createDatabase(dsn string) error {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return err
	}
	name := cfg.DBName
	if name == "" {
		return errors.New("dsn names no database")
	}
	cfg.DBName = ""
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", name))
	return err
}
