// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordCheckIn()
	RecordCheckOut(worked time.Duration)
	RecordRejected(operation string, reason string)
	RecordApproval()
	RecordHTTPStatus(statusCode int)
	RecordPanic()
	RecordLoginSessionsPurged(count int64)
	SetOpenSessions(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkIns     prometheus.Counter
	checkOuts    prometheus.Counter
	rejected     *prometheus.CounterVec
	approvals    prometheus.Counter
	httpStatus   *prometheus.CounterVec
	panics       prometheus.Counter
	workedHours  prometheus.Histogram
	purged       prometheus.Counter
	openSessions prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkIns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecard_check_ins_total",
			Help: "チェックイン成功の合計数",
		}),
		checkOuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecard_check_outs_total",
			Help: "チェックアウト成功の合計数",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timecard_rejected_operations_total",
			Help: "拒否された勤怠・プロフィール操作の数",
		}, []string{"operation", "reason"}),
		approvals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecard_profile_approvals_total",
			Help: "スタッフによるプロフィール承認の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timecard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecard_http_panics_total",
			Help: "ハンドラー内で回復したpanicの合計数",
		}),
		workedHours: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timecard_worked_hours",
			Help:    "チェックアウト時に確定した勤務時間（時間）",
			Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 12, 16, 24},
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecard_login_sessions_purged_total",
			Help: "期限切れで削除されたログインセッションの合計数",
		}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timecard_open_work_sessions",
			Help: "現在チェックイン中の勤務セッション数",
		}),
	}

	reg.MustRegister(
		c.checkIns,
		c.checkOuts,
		c.rejected,
		c.approvals,
		c.httpStatus,
		c.panics,
		c.workedHours,
		c.purged,
		c.openSessions,
	)

	return c
}

// RecordCheckIn はチェックイン成功を記録する。
func (c *Collector) RecordCheckIn() {
	c.checkIns.Inc()
}

// RecordCheckOut はチェックアウト成功と勤務時間を記録する。
func (c *Collector) RecordCheckOut(worked time.Duration) {
	c.checkOuts.Inc()
	c.workedHours.Observe(worked.Hours())
}

// RecordRejected は拒否された操作を記録する。reasonにはエラーコードを渡す。
func (c *Collector) RecordRejected(operation string, reason string) {
	c.rejected.WithLabelValues(operation, reason).Inc()
}

// RecordApproval はプロフィール承認を記録する。
func (c *Collector) RecordApproval() {
	c.approvals.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordPanic は回復したpanicを記録する。
func (c *Collector) RecordPanic() {
	c.panics.Inc()
}

// RecordLoginSessionsPurged は削除されたログインセッション数を記録する。
func (c *Collector) RecordLoginSessionsPurged(count int64) {
	c.purged.Add(float64(count))
}

// SetOpenSessions はチェックイン中のセッション数を設定する。
func (c *Collector) SetOpenSessions(count int) {
	c.openSessions.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// Nop は何も記録しないMetricsCollector。メトリクス不要なコマンドやテストで使用する。
type Nop struct{}

func (Nop) RecordCheckIn()                  {}
func (Nop) RecordCheckOut(time.Duration)    {}
func (Nop) RecordRejected(string, string)   {}
func (Nop) RecordApproval()                 {}
func (Nop) RecordHTTPStatus(int)            {}
func (Nop) RecordPanic()                    {}
func (Nop) RecordLoginSessionsPurged(int64) {}
func (Nop) SetOpenSessions(int)             {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
