// ABOUTME: Integration tests for the job claim/complete/fail protocol.
// ABOUTME: Uses testutil.NewTestDB; each test runs in its own container (t.Parallel).
package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/yusufsahin/queuepgskip/internal/store"
	"github.com/yusufsahin/queuepgskip/internal/testutil"
)

func TestEnqueueAndGetJob(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	j, err := s.EnqueueJob(ctx, "/a", "/b")
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if j.ID == 0 {
		t.Error("EnqueueJob returned zero id")
	}
	if j.Status != store.StatusPending {
		t.Errorf("Status = %q, want %q", j.Status, store.StatusPending)
	}
	if j.LastError != nil {
		t.Errorf("LastError = %q, want nil", *j.LastError)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil {
		t.Fatal("GetJob returned nil for existing job")
	}
	if got.SourcePath != "/a" || got.DestinationPath != "/b" {
		t.Errorf("paths = %q -> %q, want /a -> /b", got.SourcePath, got.DestinationPath)
	}

	// GetJob for a non-existent id returns nil.
	missing, err := s.GetJob(ctx, j.ID+1000)
	if err != nil {
		t.Fatalf("GetJob(missing): %v", err)
	}
	if missing != nil {
		t.Error("GetJob(missing) should return nil")
	}
}

func TestClaimJobEmptyQueue(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)

	j, err := s.ClaimJob(context.Background())
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if j != nil {
		t.Errorf("ClaimJob on empty queue = %+v, want nil", j)
	}
}

func TestClaimJobTransitionsToProcessing(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	enq, err := s.EnqueueJob(ctx, "/src", "/dst")
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimJob(ctx)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed == nil {
		t.Fatal("ClaimJob returned nil with a pending job present")
	}
	if claimed.ID != enq.ID {
		t.Errorf("claimed id = %d, want %d", claimed.ID, enq.ID)
	}
	if claimed.Status != store.StatusProcessing {
		t.Errorf("claimed status = %q, want %q", claimed.Status, store.StatusProcessing)
	}
	if !claimed.UpdatedAt.After(enq.UpdatedAt) && !claimed.UpdatedAt.Equal(enq.UpdatedAt) {
		t.Errorf("updated_at went backwards: %v -> %v", enq.UpdatedAt, claimed.UpdatedAt)
	}

	// The transition is visible to other observers once ClaimJob returns.
	got, err := s.GetJob(ctx, enq.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != store.StatusProcessing {
		t.Errorf("observed status = %q, want %q", got.Status, store.StatusProcessing)
	}

	// The processing row is no longer claimable.
	again, err := s.ClaimJob(ctx)
	if err != nil {
		t.Fatalf("ClaimJob (second): %v", err)
	}
	if again != nil {
		t.Errorf("second ClaimJob = job %d, want nil", again.ID)
	}
}

func TestClaimJobOldestFirst(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	first, err := s.EnqueueJob(ctx, "/one", "/1")
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	second, err := s.EnqueueJob(ctx, "/two", "/2")
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimJob(ctx)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("first claim = %+v, want job %d", claimed, first.ID)
	}

	claimed, err = s.ClaimJob(ctx)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed == nil || claimed.ID != second.ID {
		t.Fatalf("second claim = %+v, want job %d", claimed, second.ID)
	}
}

// TestClaimRaceSingleRow races several claim attempts against a queue with
// exactly one pending row: exactly one attempt wins, the rest see an empty
// queue.
func TestClaimRaceSingleRow(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	enq, err := s.EnqueueJob(ctx, "/only", "/row")
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	const attempts = 8
	var (
		start   = make(chan struct{})
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			j, err := s.ClaimJob(ctx)
			if err != nil {
				t.Errorf("ClaimJob: %v", err)
				return
			}
			if j != nil {
				mu.Lock()
				winners = append(winners, j.ID)
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("%d attempts claimed the row, want exactly 1 (winners: %v)", len(winners), winners)
	}
	if winners[0] != enq.ID {
		t.Errorf("winner claimed job %d, want %d", winners[0], enq.ID)
	}
}

// TestSkipLockedLiveness runs K pending rows against K concurrent claim
// attempts: every attempt gets a distinct row and all rows end processing.
func TestSkipLockedLiveness(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	const k = 6
	for i := 0; i < k; i++ {
		if _, err := s.EnqueueJob(ctx, "/src", "/dst"); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	var (
		start = make(chan struct{})
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = make(map[int64]bool)
	)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			j, err := s.ClaimJob(ctx)
			if err != nil {
				t.Errorf("ClaimJob: %v", err)
				return
			}
			if j == nil {
				t.Error("ClaimJob returned nil with enough rows for every claimant")
				return
			}
			mu.Lock()
			if seen[j.ID] {
				t.Errorf("job %d claimed twice", j.ID)
			}
			seen[j.ID] = true
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	if len(seen) != k {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), k)
	}

	counts, err := s.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountJobsByStatus: %v", err)
	}
	if counts[store.StatusProcessing] != k {
		t.Errorf("processing count = %d, want %d", counts[store.StatusProcessing], k)
	}
}

func TestCompleteJob(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	enq, _ := s.EnqueueJob(ctx, "/a", "/b")
	claimed, err := s.ClaimJob(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob: %v, %v", claimed, err)
	}

	if err := s.CompleteJob(ctx, claimed.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got, err := s.GetJob(ctx, enq.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != store.StatusDone {
		t.Errorf("status = %q, want %q", got.Status, store.StatusDone)
	}
	if got.LastError != nil {
		t.Errorf("last_error = %q, want nil", *got.LastError)
	}
}

func TestFailJobCapturesReason(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	enq, _ := s.EnqueueJob(ctx, "/a", "/b")
	claimed, err := s.ClaimJob(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob: %v, %v", claimed, err)
	}

	if err := s.FailJob(ctx, claimed.ID, "disk full"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, err := s.GetJob(ctx, enq.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != store.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, store.StatusFailed)
	}
	if got.LastError == nil || *got.LastError != "disk full" {
		t.Errorf("last_error = %v, want %q", got.LastError, "disk full")
	}
}

// TestTerminalRowsNotReclaimed verifies status only moves forward: done and
// failed rows are never selectable by claim again.
func TestTerminalRowsNotReclaimed(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	done, _ := s.EnqueueJob(ctx, "/a", "/b")
	failed, _ := s.EnqueueJob(ctx, "/c", "/d")

	for range []int64{done.ID, failed.ID} {
		if j, err := s.ClaimJob(ctx); err != nil || j == nil {
			t.Fatalf("ClaimJob: %v, %v", j, err)
		}
	}
	if err := s.CompleteJob(ctx, done.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if err := s.FailJob(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	j, err := s.ClaimJob(ctx)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if j != nil {
		t.Errorf("ClaimJob returned terminal job %d", j.ID)
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	a, _ := s.EnqueueJob(ctx, "/a", "/1")
	b, _ := s.EnqueueJob(ctx, "/b", "/2")
	c, _ := s.EnqueueJob(ctx, "/c", "/3")

	// Move one job to processing so the status filter has something to split.
	if j, err := s.ClaimJob(ctx); err != nil || j == nil || j.ID != a.ID {
		t.Fatalf("ClaimJob: %v, %v", j, err)
	}

	all, err := s.ListJobs(ctx, store.ListJobsParams{Limit: 10})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListJobs returned %d rows, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != c.ID || all[2].ID != a.ID {
		t.Errorf("order = [%d %d %d], want [%d %d %d]",
			all[0].ID, all[1].ID, all[2].ID, c.ID, b.ID, a.ID)
	}

	pending := store.StatusPending
	got, err := s.ListJobs(ctx, store.ListJobsParams{Status: &pending, Limit: 10})
	if err != nil {
		t.Fatalf("ListJobs(pending): %v", err)
	}
	if len(got) != 2 {
		t.Errorf("pending rows = %d, want 2", len(got))
	}

	// Keyset pagination: page of 2, then the rest.
	page, err := s.ListJobs(ctx, store.ListJobsParams{Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs(page 1): %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page 1 rows = %d, want 2", len(page))
	}
	last := page[len(page)-1]
	rest, err := s.ListJobs(ctx, store.ListJobsParams{
		AfterTime: &last.CreatedAt,
		AfterID:   &last.ID,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("ListJobs(page 2): %v", err)
	}
	if len(rest) != 1 || rest[0].ID != a.ID {
		t.Errorf("page 2 = %+v, want only job %d", rest, a.ID)
	}
}

func TestCountJobsByStatus(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	counts, err := s.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountJobsByStatus: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("counts on empty table = %v, want empty", counts)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.EnqueueJob(ctx, "/s", "/d"); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	j, err := s.ClaimJob(ctx)
	if err != nil || j == nil {
		t.Fatalf("ClaimJob: %v, %v", j, err)
	}
	if err := s.FailJob(ctx, j.ID, "nope"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	counts, err = s.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountJobsByStatus: %v", err)
	}
	if counts[store.StatusPending] != 2 || counts[store.StatusFailed] != 1 {
		t.Errorf("counts = %v, want pending=2 failed=1", counts)
	}
}

// TestClaimCreatedAtOrdering enqueues with distinct timestamps and verifies
// created_at (not id) drives claim order.
func TestClaimCreatedAtOrdering(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	newer, err := s.EnqueueJob(ctx, "/newer", "/n")
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	older, err := s.EnqueueJob(ctx, "/older", "/o")
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	// Backdate the second row so it is the oldest pending job.
	if _, err := s.Pool().Exec(ctx,
		"UPDATE jobs SET created_at = created_at - interval '1 hour' WHERE id = $1",
		older.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	claimed, err := s.ClaimJob(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob: %v, %v", claimed, err)
	}
	if claimed.ID != older.ID {
		t.Errorf("claimed job %d, want backdated job %d (newer job was %d)",
			claimed.ID, older.ID, newer.ID)
	}
}
