// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package control

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/testutil"
)

type fixture struct {
	store *db.BunStore
	d     *Dispatcher
	host  model.Host
	svc   model.ManagedService
	now   time.Time
}

// newFixture returns a dispatcher with one host and one fully permitted
// service. The dispatcher clock reads f.now.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: testutil.NewStore(t), now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	f.d = New(f.store, Options{MaxPull: 5, Now: func() time.Time { return f.now }})
	f.host, _ = testutil.SeedHost(t, f.store, "alpha")
	f.svc = testutil.SeedService(t, f.store, f.host.ID, "nginx.service", true)
	return f
}

func (f *fixture) enqueue(t *testing.T, kind model.ActionKind) model.Action {
	t.Helper()
	a, err := f.d.Enqueue(context.Background(), EnqueueRequest{HostID: f.host.ID, ServiceID: f.svc.ID, Kind: kind, RequestedBy: "admin"})
	if err != nil {
		t.Fatalf("Enqueue(%s): %v", kind, err)
	}
	return a
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.store.CountActions(context.Background())
	if err != nil {
		t.Fatalf("CountActions: %v", err)
	}
	return n
}

func intPtr(v int) *int { return &v }

func TestEnqueueCreatesQueuedAction(t *testing.T) {
	f := newFixture(t)
	a := f.enqueue(t, model.KindRestart)
	if a.Status != model.StatusQueued || a.UnitName != "nginx.service" || !a.RequestedAt.Equal(f.now) {
		t.Fatalf("unexpected action: %+v", a)
	}
	got, err := f.d.GetAction(context.Background(), a.ID)
	if err != nil || got.Status != model.StatusQueued {
		t.Fatalf("GetAction = %+v, %v", got, err)
	}
}

func TestEnqueueRejectsWithoutWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	locked := testutil.SeedService(t, f.store, f.host.ID, "db.service", false)
	other, _ := testutil.SeedHost(t, f.store, "beta")

	cases := []struct {
		name string
		req  EnqueueRequest
		want errs.Kind
	}{
		{"unknown kind", EnqueueRequest{HostID: f.host.ID, ServiceID: f.svc.ID, Kind: "reboot"}, errs.Validation},
		{"missing service", EnqueueRequest{HostID: f.host.ID, Kind: model.KindStart}, errs.Validation},
		{"unknown service", EnqueueRequest{HostID: f.host.ID, ServiceID: "nope", Kind: model.KindStart}, errs.NotFound},
		{"service of other host", EnqueueRequest{HostID: other.ID, ServiceID: f.svc.ID, Kind: model.KindStart}, errs.Validation},
		{"start not permitted", EnqueueRequest{HostID: f.host.ID, ServiceID: locked.ID, Kind: model.KindStart}, errs.Forbidden},
		{"restart not permitted", EnqueueRequest{HostID: f.host.ID, ServiceID: locked.ID, Kind: model.KindRestart}, errs.Forbidden},
	}
	for _, c := range cases {
		_, err := f.d.Enqueue(ctx, c.req)
		if got := errs.KindOf(err); got != c.want {
			t.Errorf("%s: kind = %s; want %s (err=%v)", c.name, got, c.want, err)
		}
	}
	if n := f.count(t); n != 0 {
		t.Fatalf("rejected requests wrote %d actions", n)
	}

	// Status carries no permission flag.
	if _, err := f.d.Enqueue(ctx, EnqueueRequest{HostID: f.host.ID, ServiceID: locked.ID, Kind: model.KindStatus}); err != nil {
		t.Fatalf("status on locked service: %v", err)
	}
}

func TestEnqueueIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := EnqueueRequest{HostID: f.host.ID, ServiceID: f.svc.ID, Kind: model.KindStart, IdempotencyKey: "deploy-42"}
	first, err := f.d.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := f.d.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if first.ID != second.ID || f.count(t) != 1 {
		t.Fatalf("idempotent enqueue created a second action: %s vs %s", first.ID, second.ID)
	}
}

func TestPullQueuedFIFOAndLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 8; i++ {
		ids = append(ids, f.enqueue(t, model.KindStatus).ID)
		f.now = f.now.Add(time.Second)
	}

	one, err := f.d.PullQueued(ctx, f.host.ID, 0)
	if err != nil || len(one) != 1 || one[0].ID != ids[0] {
		t.Fatalf("default pull = %+v, %v; want oldest action", one, err)
	}
	if one[0].Status != model.StatusRunning || one[0].StartedAt == nil {
		t.Fatalf("pulled action not running: %+v", one[0])
	}

	capped, err := f.d.PullQueued(ctx, f.host.ID, 100)
	if err != nil || len(capped) != 5 {
		t.Fatalf("capped pull = %d, %v; want 5", len(capped), err)
	}
	for i, a := range capped {
		if a.ID != ids[i+1] {
			t.Fatalf("pull order [%d] = %s; want %s", i, a.ID, ids[i+1])
		}
	}

	other, _ := testutil.SeedHost(t, f.store, "beta")
	none, err := f.d.PullQueued(ctx, other.ID, 5)
	if err != nil || len(none) != 0 {
		t.Fatalf("other host pulled %d actions", len(none))
	}
}

func TestPullQueuedConcurrentNeverDoubleClaims(t *testing.T) {
	f := newFixture(t)
	const total = 20
	for i := 0; i < total; i++ {
		f.enqueue(t, model.KindStatus)
	}
	d := New(f.store, Options{MaxPull: 3})

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := d.PullQueued(context.Background(), f.host.ID, 3)
				if err != nil {
					t.Errorf("PullQueued: %v", err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, a := range got {
					seen[a.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct actions; want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("action %s claimed %d times", id, n)
		}
	}
}

func TestReportResultRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	queued := f.enqueue(t, model.KindRestart)
	pulled, err := f.d.PullQueued(ctx, f.host.ID, 1)
	if err != nil || len(pulled) != 1 || pulled[0].ID != queued.ID {
		t.Fatalf("PullQueued = %+v, %v", pulled, err)
	}

	f.now = f.now.Add(time.Second)
	progress, err := f.d.ReportResult(ctx, Report{ActionID: queued.ID, HostID: f.host.ID, Status: "running", Message: "restarting"})
	if err != nil || progress.Status != model.StatusRunning || progress.Message != "restarting" {
		t.Fatalf("progress report = %+v, %v", progress, err)
	}

	f.now = f.now.Add(2 * time.Second)
	done, err := f.d.ReportResult(ctx, Report{ActionID: queued.ID, HostID: f.host.ID, Status: "completed", ExitCode: intPtr(0), Message: "ok token=abc"})
	if err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if done.Status != model.StatusSucceeded || done.ExitCode == nil || *done.ExitCode != 0 {
		t.Fatalf("finished action = %+v", done)
	}
	if done.Message != "ok token=[REDACTED]" {
		t.Fatalf("message not sanitized: %q", done.Message)
	}

	stored, _ := f.d.GetAction(ctx, queued.ID)
	if stored.Status != model.StatusSucceeded || stored.FinishedAt == nil || !stored.FinishedAt.Equal(f.now) {
		t.Fatalf("stored action = %+v", stored)
	}
	if stored.StartedAt == nil || stored.FinishedAt.Before(*stored.StartedAt) {
		t.Fatalf("finishedAt before startedAt: %+v", stored)
	}
}

func TestReportResultRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, _ := testutil.SeedHost(t, f.store, "beta")
	queued := f.enqueue(t, model.KindStart)

	// Queued actions cannot be finished.
	_, err := f.d.ReportResult(ctx, Report{ActionID: queued.ID, HostID: f.host.ID, Status: "succeeded"})
	if !errs.Is(err, errs.InvalidStateTransition) {
		t.Fatalf("report on queued = %v; want INVALID_STATE_TRANSITION", err)
	}

	if _, err := f.d.PullQueued(ctx, f.host.ID, 1); err != nil {
		t.Fatalf("PullQueued: %v", err)
	}

	cases := []struct {
		name string
		r    Report
		want errs.Kind
	}{
		{"unknown action", Report{ActionID: "missing", HostID: f.host.ID, Status: "failed"}, errs.NotFound},
		{"other host", Report{ActionID: queued.ID, HostID: other.ID, Status: "failed"}, errs.HostMismatch},
		{"bad status", Report{ActionID: queued.ID, HostID: f.host.ID, Status: "exploded"}, errs.Validation},
		{"queued status", Report{ActionID: queued.ID, HostID: f.host.ID, Status: "queued"}, errs.Validation},
		{"missing id", Report{HostID: f.host.ID, Status: "failed"}, errs.Validation},
	}
	for _, c := range cases {
		_, err := f.d.ReportResult(ctx, c.r)
		if got := errs.KindOf(err); got != c.want {
			t.Errorf("%s: kind = %s; want %s", c.name, got, c.want)
		}
	}
	stored, _ := f.d.GetAction(ctx, queued.ID)
	if stored.Status != model.StatusRunning {
		t.Fatalf("rejected reports changed the action: %+v", stored)
	}

	if _, err := f.d.ReportResult(ctx, Report{ActionID: queued.ID, HostID: f.host.ID, Status: "failed", ExitCode: intPtr(1)}); err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	for _, status := range []string{"succeeded", "failed", "running"} {
		_, err := f.d.ReportResult(ctx, Report{ActionID: queued.ID, HostID: f.host.ID, Status: status})
		if !errs.Is(err, errs.InvalidStateTransition) {
			t.Errorf("%s after terminal = %v; want INVALID_STATE_TRANSITION", status, err)
		}
	}
	stored, _ = f.d.GetAction(ctx, queued.ID)
	if stored.Status != model.StatusFailed || *stored.ExitCode != 1 {
		t.Fatalf("terminal action changed: %+v", stored)
	}
}

func TestReportResultFinishedNotBeforeStarted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enqueue(t, model.KindStop)
	if _, err := f.d.PullQueued(ctx, f.host.ID, 1); err != nil {
		t.Fatalf("PullQueued: %v", err)
	}
	started := f.now
	f.now = f.now.Add(-time.Minute)
	done, err := f.d.ReportResult(ctx, Report{ActionID: a.ID, HostID: f.host.ID, Status: "succeeded", ExitCode: intPtr(0)})
	if err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if !done.FinishedAt.Equal(started) {
		t.Fatalf("finishedAt = %v; want clamped to startedAt %v", done.FinishedAt, started)
	}
}

func TestReportResultClipsMessageOnRuneBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enqueue(t, model.KindStatus)
	if _, err := f.d.PullQueued(ctx, f.host.ID, 1); err != nil {
		t.Fatalf("PullQueued: %v", err)
	}
	// byte MaxMessageLen falls inside a three byte rune
	msg := "a" + strings.Repeat("€", MaxMessageLen)
	done, err := f.d.ReportResult(ctx, Report{ActionID: a.ID, HostID: f.host.ID, Status: "succeeded", ExitCode: intPtr(0), Message: msg})
	if err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if len(done.Message) != MaxMessageLen-1 || !utf8.ValidString(done.Message) {
		t.Fatalf("clipped message: %d bytes, valid UTF-8 %v", len(done.Message), utf8.ValidString(done.Message))
	}
	stored, _ := f.d.GetAction(ctx, a.ID)
	if stored.Message != done.Message {
		t.Fatalf("stored message differs from returned one")
	}
}

func TestHeartbeatMarksOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before, _ := f.d.GetHost(ctx, f.host.ID)
	if before.Online {
		t.Fatalf("never-seen host reported online")
	}
	hs, err := f.d.Heartbeat(ctx, f.host.ID)
	if err != nil || !hs.Online || hs.LastSeenAt == nil || !hs.LastSeenAt.Equal(f.now) {
		t.Fatalf("Heartbeat = %+v, %v", hs, err)
	}
	f.now = f.now.Add(6 * time.Minute)
	later, _ := f.d.GetHost(ctx, f.host.ID)
	if later.Online {
		t.Fatalf("host still online six minutes after last heartbeat")
	}
	if _, err := f.d.Heartbeat(ctx, "missing"); !errs.Is(err, errs.NotFound) {
		t.Fatalf("Heartbeat(missing) = %v; want NOT_FOUND", err)
	}
}

func TestReclaimStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enqueue(t, model.KindRestart)
	if _, err := f.d.PullQueued(ctx, f.host.ID, 1); err != nil {
		t.Fatalf("PullQueued: %v", err)
	}
	if n, err := f.d.ReclaimStale(ctx, 0); err != nil || n != 0 {
		t.Fatalf("disabled reclaim = %d, %v", n, err)
	}
	f.now = f.now.Add(10 * time.Minute)
	if n, _ := f.d.ReclaimStale(ctx, time.Hour); n != 0 {
		t.Fatalf("reclaimed a fresh action")
	}
	f.now = f.now.Add(time.Hour)
	n, err := f.d.ReclaimStale(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("ReclaimStale = %d, %v; want 1", n, err)
	}
	got, _ := f.d.GetAction(ctx, a.ID)
	if got.Status != model.StatusFailed || got.Message != StaleMessage {
		t.Fatalf("reclaimed action = %+v", got)
	}
}
