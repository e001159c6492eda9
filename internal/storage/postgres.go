package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/optimode/deliverkit/types"
)

// resultRow is the verification_results table.
type resultRow struct {
	Email         string               `gorm:"primaryKey;size:320"`
	Address       string               `gorm:"size:320;not null"`
	CorrelationID string               `gorm:"size:128"`
	Verdict       string               `gorm:"size:16;index;not null"`
	Confidence    int                  `gorm:"not null"`
	Reasons       []string             `gorm:"serializer:json"`
	Checks        []types.CheckOutcome `gorm:"serializer:json"`
	ElapsedMS     int64
	VerifiedAt    time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (resultRow) TableName() string { return "verification_results" }

func toRow(res types.VerificationResult) resultRow {
	return resultRow{
		Email:         Key(res.Address),
		Address:       res.Address,
		CorrelationID: res.CorrelationID,
		Verdict:       res.Verdict,
		Confidence:    res.Confidence,
		Reasons:       res.Reasons,
		Checks:        res.Checks,
		ElapsedMS:     res.Elapsed.Milliseconds(),
		VerifiedAt:    res.VerifiedAt.UTC(),
	}
}

func (r resultRow) result() types.VerificationResult {
	return types.VerificationResult{
		Address:       r.Address,
		CorrelationID: r.CorrelationID,
		Verdict:       r.Verdict,
		Confidence:    r.Confidence,
		Reasons:       r.Reasons,
		Checks:        r.Checks,
		Elapsed:       time.Duration(r.ElapsedMS) * time.Millisecond,
		VerifiedAt:    r.VerifiedAt,
	}
}

// Postgres stores results through gorm.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects with dsn and migrates the results table.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgres(db)
}

// NewPostgres uses an open gorm handle and migrates the results table.
func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&resultRow{}); err != nil {
		return nil, fmt.Errorf("migrate results table: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Upsert(ctx context.Context, res types.VerificationResult) error {
	row := toRow(res)
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", res.Address, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, address string) (types.VerificationResult, error) {
	var row resultRow
	err := p.db.WithContext(ctx).Where("email = ?", Key(address)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.VerificationResult{}, ErrNotFound
	}
	if err != nil {
		return types.VerificationResult{}, fmt.Errorf("query %s: %w", address, err)
	}
	return row.result(), nil
}
