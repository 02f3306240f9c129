package sector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SectorSentinel/internal/metrics"
	"SectorSentinel/internal/model"
)

var testDate = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

var testHorizons = []model.Horizon{{Name: "d", Period: 14}, {Name: "w", Period: 30}}

type fakeStocks struct {
	rows []model.PriceObservation
	err  error
}

func (f *fakeStocks) StocksOnDate(_ context.Context, segment string, _ time.Time) ([]model.PriceObservation, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.PriceObservation
	for _, r := range f.rows {
		if r.Segment == segment {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeCalc returns per-stock values; an entry of nil means "panic".
type fakeCalc struct {
	values map[string]model.HorizonValues
	errs   map[string]error
}

func (f *fakeCalc) Horizons() []model.Horizon { return testHorizons }

func (f *fakeCalc) Calculate(_ context.Context, stockID string, _ time.Time) (model.HorizonValues, error) {
	if err := f.errs[stockID]; err != nil {
		return nil, err
	}
	v, ok := f.values[stockID]
	if ok && v == nil {
		panic("corrupt history")
	}
	if !ok {
		return model.HorizonValues{"d": {}, "w": {}}, nil
	}
	return v, nil
}

type captureWriter struct {
	got []model.SectorIndicator
	err error
}

func (c *captureWriter) UpsertSectorIndicators(_ context.Context, indicators []model.SectorIndicator) error {
	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, indicators...)
	return nil
}

func obs(id, industry string) model.PriceObservation {
	return model.PriceObservation{StockID: id, StockName: "name-" + id, Segment: "KOSPI", Industry: industry, TradeDate: testDate, ClosePrice: 100}
}

func val(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func byIndustry(ind []model.SectorIndicator) map[string]model.SectorIndicator {
	out := make(map[string]model.SectorIndicator, len(ind))
	for _, i := range ind {
		out[i.Industry] = i
	}
	return out
}

func TestAggregateMeanOfDefinedValues(t *testing.T) {
	stocks := &fakeStocks{rows: []model.PriceObservation{
		obs("A", "전기전자"), obs("B", "전기전자"), obs("C", "전기전자"),
		obs("D", "화학"),
		obs("E", ""), // unclassified rows are ignored
	}}
	calc := &fakeCalc{values: map[string]model.HorizonValues{
		"A": {"d": val(60), "w": val(40)},
		"B": {"d": val(80), "w": {}},
		"C": {"d": {}, "w": {}},
		"D": {"d": val(25), "w": val(35)},
	}}
	agg := NewAggregator(stocks, calc, Options{Workers: 3})

	got, err := agg.Aggregate(context.Background(), testDate, "KOSPI")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "전기전자", got[0].Industry)
	assert.Equal(t, "화학", got[1].Industry)

	elec := got[0]
	assert.Equal(t, val(70), elec.Values["d"])
	assert.Equal(t, val(40), elec.Values["w"])
	assert.Equal(t, testDate, elec.TradeDate)
	assert.Equal(t, "KOSPI", elec.Segment)
	assert.Equal(t, val(25), got[1].Values["d"])
}

func TestAggregateEmitsAllUndefinedIndustry(t *testing.T) {
	m := metrics.New(nil)
	stocks := &fakeStocks{rows: []model.PriceObservation{obs("A", "화학"), obs("B", "화학")}}
	agg := NewAggregator(stocks, &fakeCalc{}, Options{Metrics: m})

	got, err := agg.Aggregate(context.Background(), testDate, "KOSPI")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Values["d"].Valid)
	assert.False(t, got[0].Values["w"].Valid)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SectorsUnavailable))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StockRSI.WithLabelValues("undefined")))
}

func TestAggregateExcludesIndustries(t *testing.T) {
	stocks := &fakeStocks{rows: []model.PriceObservation{obs("A", "기타"), obs("B", " 화학 ")}}
	calc := &fakeCalc{values: map[string]model.HorizonValues{
		"A": {"d": val(99), "w": val(99)},
		"B": {"d": val(50), "w": val(50)},
	}}
	agg := NewAggregator(stocks, calc, Options{Excluded: []string{"기타", " "}})

	got, err := agg.Aggregate(context.Background(), testDate, "KOSPI")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "화학", got[0].Industry)
}

func TestAggregateIsolatesStockFailures(t *testing.T) {
	m := metrics.New(nil)
	stocks := &fakeStocks{rows: []model.PriceObservation{obs("A", "화학"), obs("B", "화학"), obs("C", "화학")}}
	calc := &fakeCalc{
		values: map[string]model.HorizonValues{
			"A": {"d": val(30), "w": val(30)},
			"B": nil,
		},
		errs: map[string]error{"C": errors.New("bad row")},
	}
	agg := NewAggregator(stocks, calc, Options{Metrics: m})

	got, err := agg.Aggregate(context.Background(), testDate, "KOSPI")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, val(30), got[0].Values["d"])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StockRSI.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockRSI.WithLabelValues("ok")))
}

func TestAggregateAbortsOnUnavailableStore(t *testing.T) {
	rows := make([]model.PriceObservation, 0, 20)
	errs := map[string]error{}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("S%02d", i)
		rows = append(rows, obs(id, fmt.Sprintf("업종%02d", i)))
	}
	errs["S07"] = fmt.Errorf("query: %w", model.ErrStoreUnavailable)
	agg := NewAggregator(&fakeStocks{rows: rows}, &fakeCalc{errs: errs}, Options{Workers: 4})

	_, err := agg.Aggregate(context.Background(), testDate, "KOSPI")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	_, err = NewAggregator(&fakeStocks{err: model.ErrStoreUnavailable}, &fakeCalc{}, Options{}).
		Aggregate(context.Background(), testDate, "KOSPI")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestAggregateCancelled(t *testing.T) {
	stocks := &fakeStocks{rows: []model.PriceObservation{obs("A", "화학")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAggregator(stocks, &fakeCalc{}, Options{}).Aggregate(ctx, testDate, "KOSPI")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregateWorkerCountDoesNotChangeResult(t *testing.T) {
	var rows []model.PriceObservation
	values := map[string]model.HorizonValues{}
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("S%02d", i)
		rows = append(rows, obs(id, fmt.Sprintf("업종%d", i%7)))
		values[id] = model.HorizonValues{"d": val(float64(i)), "w": {}}
	}
	calc := &fakeCalc{values: values}

	serial, err := NewAggregator(&fakeStocks{rows: rows}, calc, Options{Workers: 1}).Aggregate(context.Background(), testDate, "KOSPI")
	require.NoError(t, err)
	parallel, err := NewAggregator(&fakeStocks{rows: rows}, calc, Options{Workers: 8}).Aggregate(context.Background(), testDate, "KOSPI")
	require.NoError(t, err)
	assert.Equal(t, serial, parallel)
	assert.Len(t, byIndustry(serial), 7)
}

func TestPublish(t *testing.T) {
	stocks := &fakeStocks{rows: []model.PriceObservation{obs("A", "화학")}}
	calc := &fakeCalc{values: map[string]model.HorizonValues{"A": {"d": val(55), "w": val(45)}}}
	agg := NewAggregator(stocks, calc, Options{})

	w := &captureWriter{}
	n, err := agg.Publish(context.Background(), testDate, "KOSPI", w)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, w.got, 1)

	n, err = agg.Publish(context.Background(), testDate, "KOSDAQ", w)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = agg.Publish(context.Background(), testDate, "KOSPI", &captureWriter{err: model.ErrStoreUnavailable})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
