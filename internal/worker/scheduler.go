// Package worker はcron式で定期ジョブを実行するスケジューラを提供する。
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout は1回のジョブ実行のデフォルトのタイムアウト。
const DefaultJobTimeout = 5 * time.Minute

// Job は定期実行されるジョブ。
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc は関数をJobとして扱うアダプタ。
type JobFunc func(ctx context.Context) error

// Run はf(ctx)を呼び出す。
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Observer はジョブの実行結果を記録する。
type Observer interface {
	ObserveJob(name string, duration time.Duration, err error)
}

// Scheduler はcron式（秒フィールドあり、UTC）でジョブを実行する。
// 同じジョブの実行が重なった場合、後から来た実行はスキップする。
type Scheduler struct {
	cron     *cron.Cron
	logger   *slog.Logger
	timeout  time.Duration
	observer Observer

	mu   sync.Mutex
	jobs map[string]Job
	// runCtx はStartに渡されたコンテキスト。Start前はBackground。
	runCtx context.Context
}

// Option はSchedulerのオプション。
type Option func(*Scheduler)

// WithJobTimeout は1回のジョブ実行のタイムアウトを設定する。
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithObserver はジョブ結果の記録先を設定する。
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:  logger,
		timeout: DefaultJobTimeout,
		jobs:    make(map[string]Job),
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Add はnameのジョブをspecのスケジュールで登録する。
// specは秒フィールドを含む6フィールドのcron式か、@every 1hのような記述子。
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q is already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.execute(s.context(), name, job) }); err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", spec, name, err)
	}
	s.jobs[name] = job

	s.logger.Info("job registered", slog.String("job", name), slog.String("schedule", spec))
	return nil
}

// Jobs は登録済みのジョブ名を昇順で返す。
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOnce は登録済みのジョブを1回だけ即時に実行する。
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q is not registered", name)
	}
	return s.execute(ctx, name, job)
}

// Start はスケジューラを起動し、ctxがキャンセルされるまでブロックする。
// 停止時は実行中のジョブの完了を待つ。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())))

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// execute はタイムアウト付きでジョブを実行し、結果をログとObserverに記録する。
func (s *Scheduler) execute(ctx context.Context, name string, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("job failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	} else {
		s.logger.Info("job completed",
			slog.String("job", name),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	}
	if s.observer != nil {
		s.observer.ObserveJob(name, duration, err)
	}
	return err
}

// cronLogger はcron.Loggerをslogに橋渡しする。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
