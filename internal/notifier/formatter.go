package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"SectorSentinel/internal/leader"
	"SectorSentinel/internal/model"
	"SectorSentinel/internal/recorder"
	"SectorSentinel/internal/strategy"
)

// FormatMarketCap renders a KRW market cap in units of 억 (1e8) with
// thousands separators, or "N/A" when unknown.
func FormatMarketCap(cap int64) string {
	if cap <= 0 {
		return "N/A"
	}
	return humanize.Comma(cap/100_000_000) + "억"
}

func formatRSI(ind model.SectorIndicator, horizon string) string {
	v, ok := ind.Value(horizon)
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", v)
}

func zoneOf(ind model.SectorIndicator) strategy.Zone {
	v, ok := ind.Value(model.DailyHorizon)
	if !ok {
		return strategy.UndefinedZone
	}
	return strategy.ZoneOf(v)
}

// GroupLeaders indexes records by industry, ordered by rank.
func GroupLeaders(records []model.LeadershipRecord) map[string][]model.LeadershipRecord {
	out := make(map[string][]model.LeadershipRecord)
	for _, r := range records {
		out[r.Key.Industry] = append(out[r.Key.Industry], r)
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool { return list[i].Key.Rank < list[j].Key.Rank })
	}
	return out
}

func writeLeaders(b *strings.Builder, records []model.LeadershipRecord) {
	if len(records) == 0 {
		b.WriteString("   대장주: N/A\n")
		return
	}
	for _, r := range records {
		b.WriteString(fmt.Sprintf("   %d위 %s(%s) %s · 연속 %d일\n",
			r.Key.Rank, html.EscapeString(r.StockName), r.StockID, FormatMarketCap(r.MarketCap), r.Streak))
	}
}

// FormatSectorReport formats the daily sector RSI report of one segment.
func FormatSectorReport(segment string, date time.Time, horizons []model.Horizon, summary strategy.Summary, leaders map[string][]model.LeadershipRecord) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>%s 업종 RSI</b> | %s\n", html.EscapeString(segment), date.Format(model.DateLayout)))
	b.WriteString(fmt.Sprintf("업종 %d개 · 과매수 %d · 과매도 %d · 중립 %d",
		summary.Total, len(summary.Overbought), len(summary.Oversold), len(summary.Neutral)))
	if summary.Undefined > 0 {
		b.WriteString(fmt.Sprintf(" · 데이터 부족 %d", summary.Undefined))
	}
	b.WriteString("\n\n")

	if summary.Total == 0 {
		b.WriteString("저장된 업종 지표가 없습니다.\n")
		return b.String()
	}

	for _, ind := range summary.All {
		z := zoneOf(ind)
		cols := make([]string, 0, len(horizons))
		for _, h := range horizons {
			cols = append(cols, fmt.Sprintf("%s(%d) %s", h.Name, h.Period, formatRSI(ind, h.Name)))
		}
		b.WriteString(fmt.Sprintf("%s <b>%s</b> %s\n", z.Emoji, html.EscapeString(ind.Industry), z.Label))
		b.WriteString("   " + strings.Join(cols, " | ") + "\n")
		writeLeaders(&b, leaders[ind.Industry])
	}
	return b.String()
}

// FormatLeaders lists the tracked leaders of a segment.
func FormatLeaders(segment string, records []model.LeadershipRecord) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("👑 <b>%s 업종 대장주</b>\n\n", html.EscapeString(segment)))
	if len(records) == 0 {
		b.WriteString("추적 중인 대장주가 없습니다.\n")
		return b.String()
	}
	grouped := GroupLeaders(records)
	industries := make([]string, 0, len(grouped))
	for industry := range grouped {
		industries = append(industries, industry)
	}
	sort.Strings(industries)
	for _, industry := range industries {
		b.WriteString(fmt.Sprintf("<b>%s</b>\n", html.EscapeString(industry)))
		writeLeaders(&b, grouped[industry])
	}
	return b.String()
}

// FormatRecompute formats the outcome of a streak recomputation.
func FormatRecompute(res leader.RecomputeResult, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString("🔁 <b>연속일수 재계산 완료</b>\n\n")
	if res.Reference.IsZero() {
		b.WriteString("저장된 시세가 없어 재계산하지 않았습니다.\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("기준일: %s\n", res.Reference.Format(model.DateLayout)))
	b.WriteString(fmt.Sprintf("대상 %d · 갱신 %d · 실패 %d\n", res.Attempted, res.Updated, res.Failed))
	b.WriteString(fmt.Sprintf("소요 시간: %s\n", elapsed.Round(time.Second)))
	return b.String()
}

// FormatAlert formats a job failure notice.
func FormatAlert(job string, date time.Time, err error) string {
	return fmt.Sprintf("❌ <b>%s 실패</b> | %s\n\n%s", html.EscapeString(job), date.Format(model.DateLayout),
		html.EscapeString(err.Error()))
}

// FormatRuns lists recent job runs, newest first.
func FormatRuns(runs []recorder.RunEvent) string {
	var b strings.Builder
	b.WriteString("🗂 <b>최근 작업 이력</b>\n\n")
	if len(runs) == 0 {
		b.WriteString("기록된 작업이 없습니다.\n")
		return b.String()
	}
	for _, r := range runs {
		mark := "✅"
		if r.Err != nil {
			mark = "❌"
		}
		b.WriteString(fmt.Sprintf("%s %s %s (%s)", mark, r.StartedAt.In(time.Local).Format("01-02 15:04"),
			r.Job, r.FinishedAt.Sub(r.StartedAt).Round(time.Second)))
		switch r.Job {
		case "recompute":
			b.WriteString(fmt.Sprintf(" 갱신 %d · 실패 %d", r.Recomputed, r.Failed))
		default:
			b.WriteString(fmt.Sprintf(" 시세 %d · 지표 %d · 대장주 %d", r.Observations, r.Indicators, r.Leaders))
		}
		b.WriteString("\n")
		if r.Err != nil {
			b.WriteString("   " + html.EscapeString(r.Err.Error()) + "\n")
		}
	}
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "사용 가능한 명령:\n" +
		"• /rsi [KOSPI|KOSDAQ] 최근 업종 RSI\n" +
		"• /leaders [KOSPI|KOSDAQ] 업종 대장주\n" +
		"• /recalc 연속일수 재계산\n" +
		"• /runs 최근 작업 이력\n" +
		"• /daily 일일 작업 즉시 실행"
}
