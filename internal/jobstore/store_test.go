package jobstore_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/jobtend/jobtend/internal/jobstore"
)

func newTestStore(t *testing.T) *jobstore.Store {
	t.Helper()

	store, err := jobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	return store
}

func createTestEntry(t *testing.T, store *jobstore.Store, id string) {
	t.Helper()

	if err := store.Create(id, []string{"/bin/sleep", "10"}); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
}

func TestStoreCreateAndVerify(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	t.Run("Test verify of absent entry", func(t *testing.T) {
		err := store.Verify("no-such-job")

		if !errors.Is(err, jobstore.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound: got '%v'", err)
		}
	})

	t.Run("Test verify of incomplete entry", func(t *testing.T) {
		createTestEntry(t, store, "job-a")

		err := store.Verify("job-a")

		var incorrect jobstore.IncorrectStateError
		if !errors.As(err, &incorrect) {
			t.Fatalf("expected IncorrectStateError: got '%v'", err)
		}

		if incorrect.ID != "job-a" {
			t.Errorf("expected error to name job: got '%s'", incorrect.ID)
		}
	})

	t.Run("Test verify of complete entry", func(t *testing.T) {
		createTestEntry(t, store, "job-b")

		if err := store.SetPID("job-b", 12345); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if err := store.Verify("job-b"); err != nil {
			t.Errorf("expected entry to verify: got '%v'", err)
		}
	})

	t.Run("Test created entry attributes", func(t *testing.T) {
		createTestEntry(t, store, "job-c")

		state, err := store.State("job-c")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if state != jobstore.StateNew {
			t.Errorf("expected state: got '%s', want '%s'", state, jobstore.StateNew)
		}

		argv, err := store.Command("job-c")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		wantArgv := []string{"/bin/sleep", "10"}
		if !slices.Equal(argv, wantArgv) {
			t.Errorf("expected command: got '%v', want '%v'", argv, wantArgv)
		}
	})

	t.Run("Test create resets stale entry", func(t *testing.T) {
		createTestEntry(t, store, "job-d")

		if err := store.SetPID("job-d", 999); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		createTestEntry(t, store, "job-d")

		if _, err := store.PID("job-d"); err == nil {
			t.Error("expected stale pid record to be cleared")
		}
	})
}

func TestStoreStateRecords(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	createTestEntry(t, store, "job-a")

	states := []jobstore.State{
		jobstore.StateNew,
		jobstore.StateRunning,
		jobstore.StateSuspended,
		jobstore.StateDone,
		jobstore.StateFailed,
		jobstore.StateCanceled,
	}

	for _, want := range states {
		if err := store.SetState("job-a", want); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		got, err := store.State("job-a")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if got != want {
			t.Errorf("expected state: got '%s', want '%s'", got, want)
		}
	}

	t.Run("Test corrupt state record", func(t *testing.T) {
		path := filepath.Join(store.EntryDir("job-a"), "state")

		if err := os.WriteFile(path, []byte("BOGUS\n"), 0o600); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if _, err := store.State("job-a"); err == nil {
			t.Error("expected corrupt state record to error")
		}
	})
}

func TestStoreMarkers(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	createTestEntry(t, store, "job-a")

	t.Run("Test suspended marker stashes state", func(t *testing.T) {
		if _, set, _ := store.Suspended("job-a"); set {
			t.Error("expected suspended marker to be absent")
		}

		if err := store.SetSuspended("job-a", jobstore.StateRunning); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		stashed, set, err := store.Suspended("job-a")
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if !set {
			t.Error("expected suspended marker to be set")
		}

		if stashed != jobstore.StateRunning {
			t.Errorf(
				"expected stashed state: got '%s', want '%s'",
				stashed,
				jobstore.StateRunning,
			)
		}

		if err := store.ClearSuspended("job-a"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if _, set, _ := store.Suspended("job-a"); set {
			t.Error("expected suspended marker to be cleared")
		}
	})

	t.Run("Test canceled marker", func(t *testing.T) {
		if store.Canceled("job-a") {
			t.Error("expected canceled marker to be absent")
		}

		if err := store.SetCanceled("job-a"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if !store.Canceled("job-a") {
			t.Error("expected canceled marker to be set")
		}

		if err := store.ClearCanceled("job-a"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if store.Canceled("job-a") {
			t.Error("expected canceled marker to be cleared")
		}
	})

	t.Run("Test clearing absent markers", func(t *testing.T) {
		if err := store.ClearSuspended("job-a"); err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}

		if err := store.ClearCanceled("job-a"); err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}
	})
}

func TestStoreStdinAppend(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	createTestEntry(t, store, "job-a")

	appends := []string{"first line\n", "second line\n", "third line\n"}

	for _, line := range appends {
		if err := store.AppendStdin("job-a", []byte(line)); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
	}

	got, err := os.ReadFile(store.StdinPath("job-a"))
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	want := "first line\nsecond line\nthird line\n"
	if string(got) != want {
		t.Errorf("expected stdin buffer: got '%s', want '%s'", got, want)
	}
}

func TestStoreListAndRemove(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	for _, id := range []string{"job-a", "job-b", "job-c"} {
		createTestEntry(t, store, id)
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	slices.Sort(ids)

	want := []string{"job-a", "job-b", "job-c"}
	if !slices.Equal(ids, want) {
		t.Errorf("expected ids: got '%v', want '%v'", ids, want)
	}

	if err := store.Remove("job-b"); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	ids, err = store.List()
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	slices.Sort(ids)

	want = []string{"job-a", "job-c"}
	if !slices.Equal(ids, want) {
		t.Errorf("expected ids: got '%v', want '%v'", ids, want)
	}

	if store.Exists("job-b") {
		t.Error("expected removed entry not to exist")
	}
}

func TestStoreLock(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	createTestEntry(t, store, "job-a")

	unlock, err := store.Lock("job-a")
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	unlock()

	// Relocking after release must not block.
	unlock, err = store.Lock("job-a")
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	unlock()
}
