package mysql

import (
	"database/sql"
	"time"
)

type stockDaily struct {
	StockCode    string          `gorm:"column:stock_code;type:varchar(10);primaryKey"`
	TradeDate    time.Time       `gorm:"column:trade_date;type:date;primaryKey;index:idx_stock_daily_date,priority:1"`
	StockName    string          `gorm:"column:stock_name;type:varchar(100);not null"`
	MarketType   string          `gorm:"column:market_type;type:varchar(10);not null;index:idx_stock_daily_date,priority:2"`
	Industry     sql.NullString  `gorm:"column:industry;type:varchar(100)"`
	ClosePrice   sql.NullFloat64 `gorm:"column:close_price"`
	ChangeAmount sql.NullFloat64 `gorm:"column:change_amount"`
	ChangeRate   sql.NullFloat64 `gorm:"column:change_rate"`
	MarketCap    sql.NullInt64   `gorm:"column:market_cap"`
	RegDate      time.Time       `gorm:"column:reg_date;not null"`
}

func (stockDaily) TableName() string { return "stock_daily" }

type sectorRSI struct {
	TradeDate  time.Time       `gorm:"column:trade_date;type:date;primaryKey"`
	MarketType string          `gorm:"column:market_type;type:varchar(10);primaryKey"`
	Industry   string          `gorm:"column:industry;type:varchar(100);primaryKey;index"`
	Horizon    string          `gorm:"column:horizon;type:varchar(16);primaryKey"`
	RSI        sql.NullFloat64 `gorm:"column:rsi"`
	RegDate    time.Time       `gorm:"column:reg_date;not null"`
}

func (sectorRSI) TableName() string { return "sector_rsi" }

type sectorLeader struct {
	MarketType      string    `gorm:"column:market_type;type:varchar(10);primaryKey"`
	Industry        string    `gorm:"column:industry;type:varchar(100);primaryKey"`
	RankPosition    int       `gorm:"column:rank_position;type:tinyint;primaryKey"`
	StockCode       string    `gorm:"column:stock_code;type:varchar(10);not null;index"`
	StockName       string    `gorm:"column:stock_name;type:varchar(100);not null"`
	MarketCap       int64     `gorm:"column:market_cap;not null"`
	ConsecutiveDays int       `gorm:"column:consecutive_days;not null;default:1"`
	RegDate         time.Time `gorm:"column:reg_date;not null"`
	UpdateDate      time.Time `gorm:"column:update_date;not null;index"`
}

func (sectorLeader) TableName() string { return "sector_leaders" }
