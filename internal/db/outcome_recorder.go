// Package db is an optional MySQL mirror of the trade outcome journal
// (§4.H), adapted from the teacher's GORM-based AssetSnapshotRecord. The
// jsonl journal in internal/outcome remains the system of record; this
// mirror is config-gated and its write happens after the journal append,
// never blocking or gating it.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/flowstate-labs/flasharbgo/internal/outcome"
)

// TradeOutcomeRecord is the database model for outcome.TradeOutcome. Every
// on-chain magnitude is stored as a decimal string (varchar(78) comfortably
// holds a 256-bit integer), the same encoding the teacher used for
// AssetSnapshotRecord's big.Int columns.
type TradeOutcomeRecord struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	OpportunityID string `gorm:"index;not null"`
	Mode          string `gorm:"not null"`
	Result        string `gorm:"index;not null"`
	TxHash        string `gorm:"index"`
	BlockNumber   uint64 `gorm:"index"`

	PathLabel       string
	InputAmount     string `gorm:"type:varchar(78);comment:big.Int as string"`
	EstimatedProfit string `gorm:"type:varchar(78);comment:big.Int as string"`

	GrossProfit string `gorm:"type:varchar(78);comment:big.Int as string"`
	GasCostL2   string `gorm:"type:varchar(78);comment:big.Int as string"`
	DataCostL1  string `gorm:"type:varchar(78);comment:big.Int as string"`
	RevertCost  string `gorm:"type:varchar(78);comment:big.Int as string"`

	Detail string

	DetectedAt  time.Time `gorm:"index;not null"`
	SubmittedAt time.Time `gorm:"index"`
	RecordedAt  time.Time `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (TradeOutcomeRecord) TableName() string {
	return "trade_outcomes"
}

// Mirror inserts a copy of every appended TradeOutcome into a MySQL table
// for ad hoc SQL analytics over trade history.
type Mirror struct {
	db *gorm.DB
}

// NewMirror opens dsn and migrates the trade_outcomes schema.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMirror(dsn string) (*Mirror, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to mysql: %w", err)
	}
	return NewMirrorWithDB(db)
}

// NewMirrorWithDB wraps an already-opened GORM DB, migrating the schema.
func NewMirrorWithDB(gormDB *gorm.DB) (*Mirror, error) {
	if err := gormDB.AutoMigrate(&TradeOutcomeRecord{}); err != nil {
		return nil, fmt.Errorf("db: migrate trade_outcomes: %w", err)
	}
	return &Mirror{db: gormDB}, nil
}

// Record inserts one outcome as a row. Callers treat a failure here as
// non-fatal to the submission flow — the jsonl journal already has it.
func (m *Mirror) Record(o outcome.TradeOutcome) error {
	record := TradeOutcomeRecord{
		OpportunityID:   o.OpportunityID,
		Mode:            o.Mode,
		Result:          o.Result,
		TxHash:          o.TxHash,
		BlockNumber:     o.BlockNumber,
		PathLabel:       o.PathLabel,
		InputAmount:     o.InputAmount,
		EstimatedProfit: o.EstimatedProfit,
		GrossProfit:     o.GrossProfit,
		GasCostL2:       o.GasCostL2,
		DataCostL1:      o.DataCostL1,
		RevertCost:      o.RevertCost,
		Detail:          o.Detail,
		DetectedAt:      o.DetectedAt,
		SubmittedAt:     o.SubmittedAt,
		RecordedAt:      o.RecordedAt,
	}
	if result := m.db.Create(&record); result.Error != nil {
		return fmt.Errorf("db: insert trade outcome: %w", result.Error)
	}
	return nil
}

// Close releases the underlying connection pool.
func (m *Mirror) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("db: underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
