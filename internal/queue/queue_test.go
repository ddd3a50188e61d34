package queue

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	sqlStore, err := OpenSQL(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func rawMessage(subject string) string {
	return "From: Shop <shop@example.com>\r\nTo: a@example.com\r\nSubject: " + subject + "\r\n\r\nbody of " + subject
}

func TestStoreSaveAndLoad(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			item := &Item{Subject: "Order #1", RawMessage: rawMessage("Order #1")}
			require.NoError(t, store.Save(ctx, item))
			assert.Greater(t, item.ID, int64(0))
			assert.False(t, item.CreatedAt.IsZero(), "CreatedAt should be assigned")

			loaded, err := store.Load(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusPending, loaded.Status)
			assert.Equal(t, item.RawMessage, loaded.RawMessage)
			assert.Nil(t, loaded.SentAt)

			sentAt := time.Now().Truncate(time.Second)
			loaded.Status = StatusSent
			loaded.SentAt = &sentAt
			require.NoError(t, store.Save(ctx, loaded))

			again, err := store.Load(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusSent, again.Status)
			require.NotNil(t, again.SentAt)
			assert.True(t, again.SentAt.Equal(sentAt))

			_, err = store.Load(ctx, 9999)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreQueryOldestFirstWithLimit(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			statuses := []Status{StatusPending, StatusSent, StatusPending, StatusError, StatusPending}
			for i, st := range statuses {
				require.NoError(t, store.Save(ctx, &Item{Status: st, RawMessage: rawMessage(string(rune('a' + i)))}))
			}

			pending, err := store.Query(ctx, StatusPending, 2)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Less(t, pending[0].ID, pending[1].ID)

			all, err := store.Query(ctx, StatusPending, 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			none, err := store.Query(ctx, Status(7), 10)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				st := StatusPending
				if i%2 == 1 {
					st = StatusError
				}
				require.NoError(t, store.Save(ctx, &Item{Status: st, RawMessage: rawMessage("m")}))
			}

			page, err := store.List(ctx, ListOptions{Limit: 2, Offset: 1})
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Greater(t, page[0].ID, page[1].ID)

			errStatus := StatusError
			errs, err := store.List(ctx, ListOptions{Status: &errStatus})
			require.NoError(t, err)
			assert.Len(t, errs, 2)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			item := &Item{RawMessage: rawMessage("x")}
			require.NoError(t, store.Save(ctx, item))
			require.NoError(t, store.Delete(ctx, item.ID))
			assert.ErrorIs(t, store.Delete(ctx, item.ID), ErrNotFound)
		})
	}
}

func TestStoreDeleteOlderThan(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().AddDate(0, 0, -10)

			oldSent := &Item{Status: StatusSent, RawMessage: "a", CreatedAt: old}
			newSent := &Item{Status: StatusSent, RawMessage: "b"}
			oldErr := &Item{Status: StatusError, RawMessage: "c", CreatedAt: old}
			oldPending := &Item{Status: StatusPending, RawMessage: "d", CreatedAt: old}
			for _, it := range []*Item{oldSent, newSent, oldErr, oldPending} {
				require.NoError(t, store.Save(ctx, it))
			}

			n, err := store.DeleteOlderThan(ctx, 7, StatusSent)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = store.Load(ctx, oldSent.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			for _, kept := range []*Item{newSent, oldErr, oldPending} {
				_, err := store.Load(ctx, kept.ID)
				assert.NoError(t, err)
			}

			_, err = store.DeleteOlderThan(ctx, 7, StatusPending)
			assert.ErrorIs(t, err, ErrInvalidStatus)
			_, err = store.Load(ctx, oldPending.ID)
			assert.NoError(t, err, "invalid status must not delete anything")
		})
	}
}

func TestResendAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sentAt := time.Now()
	a := &Item{Status: StatusError, RawMessage: "a"}
	b := &Item{Status: StatusSent, RawMessage: "b", SentAt: &sentAt}
	require.NoError(t, store.Save(ctx, a))
	require.NoError(t, store.Save(ctx, b))

	n, err := Resend(ctx, store, a.ID, b.ID, 404)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := store.Query(ctx, StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Nil(t, pending[1].SentAt)

	n, err = DeleteAll(ctx, store, a.ID, 404)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExportMbox(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, &Item{RawMessage: rawMessage("first")}))
	require.NoError(t, store.Save(ctx, &Item{RawMessage: rawMessage("second")}))

	var buf bytes.Buffer
	n, err := ExportMbox(ctx, store, &buf, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, buf.String(), "From shop@example.com ")

	r := mbox.NewReader(&buf)
	var bodies []string
	for {
		mr, err := r.NextMessage()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(mr)
		require.NoError(t, err)
		bodies = append(bodies, string(b))
	}
	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], "Subject: second")
	assert.Contains(t, bodies[1], "Subject: first")
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	st, err := ParseStatus("error")
	require.NoError(t, err)
	assert.Equal(t, StatusError, st)

	st, err = ParseStatus("1")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, st)

	_, err = ParseStatus("archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
