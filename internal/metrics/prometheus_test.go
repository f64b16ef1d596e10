package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordBar("BTCUSDT", "1m", 64000, 3, 1, 200*time.Microsecond)
	r.RecordBar("BTCUSDT", "1m", 64010, 4, 0, 150*time.Microsecond)
	r.RecordZoneEvent("BTCUSDT", "1m", "created")
	r.RecordZoneEvent("BTCUSDT", "1m", "created")
	r.RecordShift("BTCUSDT", "1m", "bullish")
	r.RecordSignal("BTCUSDT", "1m", "inversion_retest", "SELL")
	r.RecordDataQuality("BTCUSDT", "1m")
	r.RecordOrderError("BTCUSDT", "1m")
	r.RecordSinkError("redis")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.barsIngested.WithLabelValues("BTCUSDT", "1m")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.zoneEvents.WithLabelValues("BTCUSDT", "1m", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.structureShifts.WithLabelValues("BTCUSDT", "1m", "bullish")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.signals.WithLabelValues("BTCUSDT", "1m", "inversion_retest", "SELL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.dataQuality.WithLabelValues("BTCUSDT", "1m")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.orderErrors.WithLabelValues("BTCUSDT", "1m")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sinkErrors.WithLabelValues("redis")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.activeZones.WithLabelValues("BTCUSDT", "1m")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.tradableZones.WithLabelValues("BTCUSDT", "1m")))
	assert.Equal(t, 64010.0, testutil.ToFloat64(r.lastClose.WithLabelValues("BTCUSDT", "1m")))
}

func TestRecorder_Handler(t *testing.T) {
	r := New(nil)
	r.RecordShift("ETHUSDT", "5m", "bearish")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `smc_structure_shifts_total{direction="bearish",symbol="ETHUSDT",timeframe="5m"} 1`)
}
