package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	krxJSONPath = "/comm/bldAttendant/getJsonData.cmd"
	// Industry classification status by market.
	krxIndustryBld = "dbms/MDC/STAT/standard/MDCSTAT03901"
)

// KRXFetcher implements Fetcher against the KRX market data portal.
type KRXFetcher struct {
	client *resty.Client
}

// NewKRXFetcher creates a fetcher with optional proxy support.
func NewKRXFetcher(baseURL string, timeout time.Duration, proxyURL string) *KRXFetcher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(2*time.Second).
		SetHeader("User-Agent", "Mozilla/5.0").
		SetHeader("Referer", baseURL+"/contents/MDC/MDI/mdiLoader/index.cmd")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &KRXFetcher{client: client}
}

func (f *KRXFetcher) Name() string { return "krx" }

type krxResponse struct {
	Block1 []map[string]any `json:"block1"`
}

// FetchIndustryRows posts the classification query for marketCode (STK, KSQ)
// on date.
func (f *KRXFetcher) FetchIndustryRows(ctx context.Context, date time.Time, marketCode string) ([]RawRow, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"bld":         krxIndustryBld,
			"locale":      "ko_KR",
			"mktId":       marketCode,
			"trdDd":       date.Format("20060102"),
			"money":       "1",
			"csvxls_isNo": "false",
		}).
		Post(krxJSONPath)
	if err != nil {
		return nil, fmt.Errorf("krx request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("krx request: status %d", resp.StatusCode())
	}

	var body krxResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode krx response: %w", err)
	}

	rows := make([]RawRow, 0, len(body.Block1))
	for _, item := range body.Block1 {
		row := make(RawRow, len(item))
		for k, v := range item {
			row[k] = stringify(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func stringify(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprint(n)
	}
}
