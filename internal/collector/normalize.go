package collector

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"SectorSentinel/internal/model"
)

type field int

const (
	fieldStockID field = iota
	fieldStockName
	fieldIndustry
	fieldClose
	fieldChange
	fieldChangeRate
	fieldMarketCap
	fieldCount
)

// Column names the provider has used for each field, in lookup order.
var aliases = [fieldCount][]string{
	fieldStockID:    {"ISU_SRT_CD", "종목코드", "ISU_CD", "Code"},
	fieldStockName:  {"ISU_ABBRV", "종목명", "ISU_NM", "Name"},
	fieldIndustry:   {"IDX_IND_NM", "업종명", "SEC_NM", "Sector"},
	fieldClose:      {"TDD_CLSPRC", "종가", "Close"},
	fieldChange:     {"CMPPREVDD_PRC", "대비", "Change"},
	fieldChangeRate: {"FLUC_RT", "등락률", "ChangeRate"},
	fieldMarketCap:  {"MKTCAP", "시가총액", "MarketCap"},
}

func lookup(row RawRow, f field) string {
	for _, name := range aliases[f] {
		if v, ok := row[name]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseFloat(s string) sql.NullFloat64 {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "-" {
		return sql.NullFloat64{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func parseInt(s string) sql.NullInt64 {
	f := parseFloat(s)
	if !f.Valid {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(f.Float64), Valid: true}
}

// Normalize converts provider rows into observations of segment on date.
// Rows without a stock id, name or parsable close are dropped.
func Normalize(rows []RawRow, segment string, date time.Time) []model.PriceObservation {
	out := make([]model.PriceObservation, 0, len(rows))
	d := model.Day(date)
	for _, row := range rows {
		var vals [fieldCount]string
		for f := field(0); f < fieldCount; f++ {
			vals[f] = lookup(row, f)
		}
		closePrice := parseFloat(vals[fieldClose])
		if vals[fieldStockID] == "" || vals[fieldStockName] == "" || !closePrice.Valid {
			continue
		}
		out = append(out, model.PriceObservation{
			StockID:      vals[fieldStockID],
			StockName:    vals[fieldStockName],
			Segment:      segment,
			Industry:     vals[fieldIndustry],
			TradeDate:    d,
			ClosePrice:   closePrice.Float64,
			ChangeAmount: parseFloat(vals[fieldChange]),
			ChangeRate:   parseFloat(vals[fieldChangeRate]),
			MarketCap:    parseInt(vals[fieldMarketCap]),
		})
	}
	return out
}
