package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockExecutor struct {
	query  string
	args   []any
	result sql.Result
	err    error
}

func (m *mockExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	m.query = query
	m.args = args
	return m.result, m.err
}

type mockPurger struct {
	called bool
	n      int64
	err    error
}

func (m *mockPurger) DeleteExpired(context.Context) (int64, error) {
	m.called = true
	return m.n, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

// findLogEntry はmsgが一致する最初のログエントリを返す。
func findLogEntry(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == msg {
			return entry
		}
	}
	t.Fatalf("log %q not found in: %s", msg, buf.String())
	return nil
}

func TestJob_Run_PurgesSessionsAndEvents(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{n: 3}
	db := &mockExecutor{result: &fakeResult{rowsAffected: 7}}

	if err := NewJob(purger, db, newTestLogger(&buf)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !purger.called {
		t.Error("期限切れセッションを削除するべき")
	}
	if !strings.Contains(db.query, "DELETE FROM temple_events") || !strings.Contains(db.query, "fetched_at") {
		t.Errorf("query = %s", db.query)
	}
	if len(db.args) != 1 || db.args[0] != "90 days" {
		t.Errorf("args = %v, want [90 days]", db.args)
	}

	entry := findLogEntry(t, &buf, "cleanup finished")
	if entry["deleted_sessions"] != float64(3) || entry["deleted_events"] != float64(7) {
		t.Errorf("entry = %v", entry)
	}
}

func TestJob_Run_CustomRetention(t *testing.T) {
	var buf bytes.Buffer
	db := &mockExecutor{result: &fakeResult{}}
	job := NewJob(&mockPurger{}, db, newTestLogger(&buf))
	job.EventRetentionDays = 30

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if db.args[0] != "30 days" {
		t.Errorf("interval = %v", db.args[0])
	}
}

func TestJob_Run_SessionFailureStillPurgesEvents(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{err: errors.New("connection reset")}
	db := &mockExecutor{result: &fakeResult{rowsAffected: 1}}

	err := NewJob(purger, db, newTestLogger(&buf)).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "session cleanup failed") {
		t.Fatalf("error = %v", err)
	}
	if db.query == "" {
		t.Error("セッション削除の失敗後も行事の削除を試みるべき")
	}
}

func TestJob_Run_ReturnsErrorOnEventFailure(t *testing.T) {
	var buf bytes.Buffer
	db := &mockExecutor{err: sql.ErrConnDone}

	err := NewJob(&mockPurger{}, db, newTestLogger(&buf)).Run(context.Background())
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("error = %v, want wrapping ErrConnDone", err)
	}
	findLogEntry(t, &buf, "failed to purge imported events")
}
