package leader

import (
	"sort"
	"strings"

	"SectorSentinel/internal/model"
)

// RankIndustries groups rows by industry and keeps the top k stocks of each by
// market capitalization. Rows without a cap or industry, and excluded
// industries, are dropped. Equal caps are ordered by stock id so the result
// matches the store's ordering.
func RankIndustries(rows []model.PriceObservation, excluded map[string]struct{}, k int) map[string][]model.RankedStock {
	ranked := make(map[string][]model.RankedStock)
	for _, r := range rows {
		industry := strings.TrimSpace(r.Industry)
		if industry == "" || !r.MarketCap.Valid {
			continue
		}
		if _, skip := excluded[industry]; skip {
			continue
		}
		ranked[industry] = append(ranked[industry], model.RankedStock{
			StockID:    r.StockID,
			StockName:  r.StockName,
			MarketCap:  r.MarketCap.Int64,
			ClosePrice: r.ClosePrice,
			ChangeRate: r.ChangeRate,
		})
	}

	for industry, stocks := range ranked {
		SortByMarketCap(stocks)
		if k > 0 && len(stocks) > k {
			stocks = stocks[:k]
		}
		ranked[industry] = stocks
	}
	return ranked
}

// SortByMarketCap orders stocks by cap descending, then stock id ascending.
func SortByMarketCap(stocks []model.RankedStock) {
	sort.SliceStable(stocks, func(i, j int) bool {
		if stocks[i].MarketCap != stocks[j].MarketCap {
			return stocks[i].MarketCap > stocks[j].MarketCap
		}
		return stocks[i].StockID < stocks[j].StockID
	})
}

// SortedIndustries returns the keys of ranked in lexical order.
func SortedIndustries(ranked map[string][]model.RankedStock) []string {
	names := make([]string, 0, len(ranked))
	for name := range ranked {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
