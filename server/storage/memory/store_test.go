package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/storage"
	"github.com/samber/mo"
)

func newSeries(id, owner, start string) *storage.Series {
	return &storage.Series{
		ID:         id,
		OwnerID:    owner,
		TemplateID: "tpl",
		StartDate:  recurrence.MustParseDate(start),
		Recurrence: recurrence.Daily{Interval: 1},
		IsActive:   true,
	}
}

func create(t *testing.T, store *Store, s *storage.Series) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.CreateSeries(context.Background(), s)
	})
	if err != nil {
		t.Fatalf("unexpected error creating series: %v", err)
	}
}

func TestStore_Template(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.GetTemplate(ctx, "alice", "deep-work")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	tpl := &storage.Template{ID: "deep-work", OwnerID: "alice", Name: "Deep work"}
	if err := store.AddTemplate(tpl); err != nil {
		t.Fatalf("unexpected error adding template: %v", err)
	}
	if err := store.AddTemplate(tpl); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.GetTemplate(ctx, "alice", "deep-work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Deep work" {
		t.Errorf("got template name %q, want %q", got.Name, "Deep work")
	}

	// Templates are scoped per owner
	if _, err := store.GetTemplate(ctx, "bob", "deep-work"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for other owner, got %v", err)
	}
}

func TestStore_SeriesLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s := newSeries("s1", "alice", "2024-01-01")
	create(t, store, s)
	if s.Version != 1 {
		t.Errorf("got version %d after create, want 1", s.Version)
	}
	if !s.Created.Equal(now) {
		t.Errorf("got created %v, want %v", s.Created, now)
	}

	// Duplicate id
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.CreateSeries(ctx, newSeries("s1", "alice", "2024-02-01"))
	})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	// Other owners cannot see it
	if _, err := store.GetSeries(ctx, "bob", "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for other owner, got %v", err)
	}

	got, err := store.GetSeries(ctx, "alice", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got.Notes = "changed"
	if err := got.AddException(recurrence.MustParseDate("2024-01-03"), storage.ActionDelete, ""); err != nil {
		t.Fatalf("unexpected error adding exception: %v", err)
	}

	// Reads are copies
	again, _ := store.GetSeries(ctx, "alice", "s1")
	if again.Notes != "" || len(again.Exceptions) != 0 {
		t.Error("mutating a returned series leaked into the store")
	}

	now = now.Add(time.Hour)
	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.UpdateSeries(ctx, got)
	})
	if err != nil {
		t.Fatalf("unexpected error updating series: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("got version %d after update, want 2", got.Version)
	}

	updated, _ := store.GetSeries(ctx, "alice", "s1")
	if updated.Notes != "changed" || !updated.IsExcepted(recurrence.MustParseDate("2024-01-03")) {
		t.Errorf("update not persisted: %+v", updated)
	}
	if !updated.Modified.Equal(now) || !updated.Created.Equal(now.Add(-time.Hour)) {
		t.Errorf("unexpected timestamps created=%v modified=%v", updated.Created, updated.Modified)
	}

	// Stale version
	again.Notes = "stale"
	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.UpdateSeries(ctx, again)
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteSeries(ctx, "alice", "s1", 1)
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict deleting with stale version, got %v", err)
	}

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteSeries(ctx, "alice", "s1", 2)
	})
	if err != nil {
		t.Fatalf("unexpected error deleting series: %v", err)
	}
	if _, err := store.GetSeries(ctx, "alice", "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_CreateValidates(t *testing.T) {
	store := New()
	ctx := context.Background()

	bad := newSeries("s1", "alice", "2024-01-10")
	bad.EndDate = mo.Some(recurrence.MustParseDate("2024-01-01"))
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.CreateSeries(ctx, bad)
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStore_TxIsAtomic(t *testing.T) {
	store := New()
	ctx := context.Background()
	create(t, store, newSeries("s1", "alice", "2024-01-01"))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		s, err := tx.GetSeries(ctx, "alice", "s1")
		if err != nil {
			return err
		}
		s.EndDate = mo.Some(recurrence.MustParseDate("2024-01-31"))
		if err := tx.UpdateSeries(ctx, s); err != nil {
			return err
		}
		// The transaction sees its own write
		staged, err := tx.GetSeries(ctx, "alice", "s1")
		if err != nil {
			return err
		}
		if staged.EndDate.IsAbsent() {
			t.Error("transaction did not observe its own update")
		}
		if err := tx.CreateSeries(ctx, newSeries("s2", "alice", "2024-02-01")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	s1, _ := store.GetSeries(ctx, "alice", "s1")
	if s1.EndDate.IsPresent() || s1.Version != 1 {
		t.Errorf("rolled back update is visible: %+v", s1)
	}
	if _, err := store.GetSeries(ctx, "alice", "s2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("rolled back create is visible: %v", err)
	}
}

func TestStore_CommitHookFailure(t *testing.T) {
	fail := true
	store := New(WithCommitHook(func() error {
		if fail {
			return errors.New("disk full")
		}
		return nil
	}))
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.CreateSeries(ctx, newSeries("s1", "alice", "2024-01-01"))
	})
	if !errors.Is(err, storage.ErrCommit) {
		t.Fatalf("expected ErrCommit, got %v", err)
	}
	if _, err := store.GetSeries(ctx, "alice", "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("aborted commit left data behind: %v", err)
	}

	fail = false
	create(t, store, newSeries("s1", "alice", "2024-01-01"))
}

func TestStore_ListSeries(t *testing.T) {
	store := New()
	ctx := context.Background()

	a := newSeries("a", "alice", "2024-03-01")
	b := newSeries("b", "alice", "2024-01-01")
	b.EndDate = mo.Some(recurrence.MustParseDate("2024-01-31"))
	c := newSeries("c", "alice", "2024-02-10")
	c.Recurrence = recurrence.None{}
	d := newSeries("d", "alice", "2024-01-05")
	d.IsActive = false
	for _, s := range []*storage.Series{a, b, c, d, newSeries("e", "bob", "2024-01-01")} {
		create(t, store, s)
	}

	ids := func(list []*storage.Series) []string {
		var out []string
		for _, s := range list {
			out = append(out, s.ID)
		}
		return out
	}

	all, err := store.ListSeries(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := ids(all), []string{"b", "d", "c", "a"}; !equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	start, end := recurrence.MustParseDate("2024-02-01"), recurrence.MustParseDate("2024-02-29")
	filtered, _ := store.ListSeries(ctx, "alice", &storage.ListOptions{Start: &start, End: &end, ActiveOnly: true})
	if got, want := ids(filtered), []string{"c"}; !equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
