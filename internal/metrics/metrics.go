// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "templeman"

// Collector はPrometheusメトリクスを収集する。
// 各サービスのObserverインターフェースを実装する。
type Collector struct {
	authAttempts   *prometheus.CounterVec
	guardOutcomes  *prometheus.CounterVec
	profilesSaved  prometheus.Counter
	documents      prometheus.Counter
	applications   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	backendErrors  *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec
	jobLatency     *prometheus.HistogramVec
	httpResponses  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "認証操作の試行数（操作・結果別）",
		}, []string{"action", "result"}),
		guardOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_outcomes_total",
			Help:      "画面ガードの判定結果別の件数",
		}, []string{"outcome"}),
		profilesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_saved_total",
			Help:      "保存されたプロフィールの合計数",
		}),
		documents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_uploaded_total",
			Help:      "アップロードされた本人確認書類の合計数",
		}),
		applications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applications_submitted_total",
			Help:      "送信された会員申込の件数（プラン別）",
		}, []string{"membership_type"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "外部基盤呼び出しのレイテンシ（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_call_errors_total",
			Help:      "外部基盤呼び出しの失敗数",
		}, []string{"operation"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "定期ジョブの実行数（ジョブ・結果別）",
		}, []string{"job", "result"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "定期ジョブの実行時間（秒）",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		httpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.guardOutcomes,
		c.profilesSaved,
		c.documents,
		c.applications,
		c.backendLatency,
		c.backendErrors,
		c.jobRuns,
		c.jobLatency,
		c.httpResponses,
	)

	return c
}

// ObserveAuth は認証操作の結果を記録する。
func (c *Collector) ObserveAuth(action string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.authAttempts.WithLabelValues(action, result).Inc()
}

// ObserveGuard は画面ガードの判定結果を記録する。
func (c *Collector) ObserveGuard(outcome string) {
	c.guardOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveProfileSaved はプロフィール保存を記録する。
func (c *Collector) ObserveProfileSaved(withDocument bool) {
	c.profilesSaved.Inc()
	if withDocument {
		c.documents.Inc()
	}
}

// ObserveApplicationSubmitted は会員申込の送信を記録する。
func (c *Collector) ObserveApplicationSubmitted(planType string) {
	c.applications.WithLabelValues(planType).Inc()
}

// ObserveBackendCall は外部基盤呼び出しのレイテンシと失敗を記録する。
func (c *Collector) ObserveBackendCall(operation string, duration time.Duration, err error) {
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		c.backendErrors.WithLabelValues(operation).Inc()
	}
}

// ObserveJob は定期ジョブ（セッション掃除・行事取り込み）の結果を記録する。
func (c *Collector) ObserveJob(name string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.jobRuns.WithLabelValues(name, result).Inc()
	c.jobLatency.WithLabelValues(name).Observe(duration.Seconds())
}

// ObserveHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) ObserveHTTPStatus(statusCode int) {
	c.httpResponses.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
