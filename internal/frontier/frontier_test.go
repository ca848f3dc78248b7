package frontier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeedStartsWithSingleURL(t *testing.T) {
	t.Parallel()

	f := New()
	f.MarkVisited("https://old.test/")
	f.EnqueueIfNew("https://old.test/queued")

	f.Seed("https://site.test/")

	require.True(t, f.HasNext())
	require.Equal(t, 1, f.Len())
	require.Zero(t, f.VisitedCount())
	require.False(t, f.IsVisited("https://old.test/"))

	next, err := f.Next()
	require.NoError(t, err)
	require.Equal(t, "https://site.test/", next)
	require.False(t, f.HasNext())
}

func TestNextOnEmptyFrontier(t *testing.T) {
	t.Parallel()

	f := New()
	_, err := f.Next()
	require.ErrorIs(t, err, ErrEmptyFrontier)
}

func TestNextIsFIFO(t *testing.T) {
	t.Parallel()

	f := New()
	f.Seed("https://site.test/")
	for _, u := range []string{"https://site.test/a", "https://site.test/b", "https://site.test/c"} {
		require.True(t, f.EnqueueIfNew(u))
	}

	var got []string
	for f.HasNext() {
		u, err := f.Next()
		require.NoError(t, err)
		got = append(got, u)
	}
	require.Equal(t, []string{
		"https://site.test/",
		"https://site.test/a",
		"https://site.test/b",
		"https://site.test/c",
	}, got)
}

func TestEnqueueIfNewSuppressesDuplicates(t *testing.T) {
	t.Parallel()

	f := New()
	f.Seed("https://site.test/")

	require.False(t, f.EnqueueIfNew("https://site.test/"), "already queued")
	require.True(t, f.EnqueueIfNew("https://site.test/a"))
	require.False(t, f.EnqueueIfNew("https://site.test/a"))
	require.Equal(t, 2, f.Len())

	f.MarkVisited("https://site.test/b")
	require.False(t, f.EnqueueIfNew("https://site.test/b"), "visited urls never re-enter the queue")
	require.Equal(t, 2, f.Len())
}

func TestDequeuedURLCanBeQueuedAgainUntilVisited(t *testing.T) {
	t.Parallel()

	f := New()
	f.Seed("https://site.test/")
	u, err := f.Next()
	require.NoError(t, err)

	// Not yet marked: the controller skips rejected URLs without marking them.
	require.True(t, f.EnqueueIfNew(u))

	_, err = f.Next()
	require.NoError(t, err)
	f.MarkVisited(u)
	require.False(t, f.EnqueueIfNew(u))
}

func TestMarkVisitedIsIdempotent(t *testing.T) {
	t.Parallel()

	f := New()
	f.MarkVisited("https://site.test/")
	f.MarkVisited("https://site.test/")
	f.MarkVisited("https://site.test/a")

	require.Equal(t, 2, f.VisitedCount())
	require.Equal(t, []string{"https://site.test/", "https://site.test/a"}, f.Visited())
}
