package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories returns every backend the contract tests run against.
// Redis only joins when REDIS_TEST_URL points at a disposable instance.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()

	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			s, err := NewMemoryStore("")
			require.NoError(t, err)
			return s
		},
	}

	if url := os.Getenv("REDIS_TEST_URL"); url != "" {
		factories["redis"] = func(t *testing.T) Store {
			s, err := NewRedisStore(context.Background(), url, "read2me-test:"+NewID()+":", false)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return factories
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("missing node", func(t *testing.T) {
				s := newStore(t)
				_, err := s.Node(context.Background(), "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("duplicate node", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t)
				require.NoError(t, s.CreateNode(ctx, Node{ID: "a"}))
				assert.ErrorIs(t, s.CreateNode(ctx, Node{ID: "a"}), ErrNodeExists)

				n, err := s.Node(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, KindPending, n.Kind)
			})

			t.Run("story is set once", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t)
				require.NoError(t, s.CreateNode(ctx, Node{ID: "a"}))

				won, err := s.ClaimStory(ctx, "a", "first")
				require.NoError(t, err)
				assert.True(t, won)

				won, err = s.ClaimStory(ctx, "a", "second")
				require.NoError(t, err)
				assert.False(t, won)

				n, err := s.Node(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, "first", n.Story)
				assert.Equal(t, KindPage, n.Kind)
			})

			t.Run("claim keeps start kind", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t)
				require.NoError(t, s.CreateNode(ctx, Node{ID: "root", Kind: KindStart, Summary: "premise"}))
				_, err := s.ClaimStory(ctx, "root", "once upon a time")
				require.NoError(t, err)

				starts, err := s.Nodes(ctx, KindStart)
				require.NoError(t, err)
				require.Len(t, starts, 1)
				assert.Equal(t, "premise", starts[0].Summary)
			})

			t.Run("edges keep attach order", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t)
				require.NoError(t, s.CreateNode(ctx, Node{ID: "p"}))

				var want []Edge
				for _, action := range []string{"climb", "swim", "hide", "sing"} {
					id := NewID()
					require.NoError(t, s.CreateNode(ctx, Node{ID: id}))
					require.NoError(t, s.Attach(ctx, "p", id, EdgeAction, action))
					want = append(want, Edge{From: "p", To: id, Kind: EdgeAction, Action: action})
				}

				got, err := ActionEdges(ctx, s, "p")
				require.NoError(t, err)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("action edges mismatch (-want +got):\n%s", diff)
				}

				prev, err := s.Edges(ctx, "p", EdgePrevious)
				require.NoError(t, err)
				assert.Empty(t, prev)
			})

			t.Run("attach requires both nodes", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t)
				require.NoError(t, s.CreateNode(ctx, Node{ID: "p"}))
				assert.ErrorIs(t, s.Attach(ctx, "p", "ghost", EdgeAction, "x"), ErrNotFound)
			})

			t.Run("set kind moves node", func(t *testing.T) {
				ctx := context.Background()
				s := newStore(t)
				require.NoError(t, s.CreateNode(ctx, Node{ID: "a", Kind: KindPage}))
				require.NoError(t, s.SetKind(ctx, "a", KindStart))
				require.NoError(t, s.SetSummary(ctx, "a", "summary"))

				pages, err := s.Nodes(ctx, KindPage)
				require.NoError(t, err)
				assert.Empty(t, pages)

				starts, err := s.Nodes(ctx, KindStart)
				require.NoError(t, err)
				require.Len(t, starts, 1)
				assert.Equal(t, "summary", starts[0].Summary)
			})
		})
	}
}

// chain builds start -> p1 -> ... -> pk and returns the ids, root first.
func chain(t *testing.T, s Store, k int) []string {
	t.Helper()
	ctx := context.Background()

	ids := []string{"n0"}
	require.NoError(t, s.CreateNode(ctx, Node{ID: "n0", Kind: KindStart, Story: "page 0", Summary: "premise"}))
	for i := 1; i <= k; i++ {
		id := "n" + string(rune('0'+i))
		require.NoError(t, s.CreateNode(ctx, Node{ID: id, Kind: KindPage, Story: "page " + string(rune('0'+i))}))
		require.NoError(t, s.Attach(ctx, ids[i-1], id, EdgeAction, "go on"))
		require.NoError(t, s.Attach(ctx, id, ids[i-1], EdgePrevious, ""))
		ids = append(ids, id)
	}
	return ids
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore("")
	require.NoError(t, err)
	ids := chain(t, s, 3)

	narrative, err := History(ctx, s, ids[3])
	require.NoError(t, err)
	assert.Equal(t, "n0", narrative.Start.ID)
	assert.Equal(t, []string{"page 0", "page 1", "page 2"}, narrative.Segments)

	for k, id := range ids {
		depth, err := Depth(ctx, s, id)
		require.NoError(t, err)
		assert.Equal(t, k, depth, "depth of %s", id)
	}

	root, err := History(ctx, s, "n0")
	require.NoError(t, err)
	assert.Empty(t, root.Segments)
	assert.Equal(t, "premise", root.Start.Summary)
}

func TestHistory_Orphan(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore("")
	require.NoError(t, err)
	require.NoError(t, s.CreateNode(ctx, Node{ID: "lost"}))

	_, err = History(ctx, s, "lost")
	assert.ErrorContains(t, err, "no path to a start node")
}

func TestPrevious_RejectsSecondParent(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore("")
	require.NoError(t, err)
	ids := chain(t, s, 1)
	require.NoError(t, s.CreateNode(ctx, Node{ID: "other", Kind: KindStart}))
	require.NoError(t, s.Attach(ctx, ids[1], "other", EdgePrevious, ""))

	_, err = Previous(ctx, s, ids[1])
	assert.ErrorContains(t, err, "2 previous edges")
}

func TestMemoryStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "graph.json")

	s, err := NewMemoryStore(path)
	require.NoError(t, err)
	ids := chain(t, s, 2)
	require.NoError(t, s.Flush(ctx))

	reloaded, err := NewMemoryStore(path)
	require.NoError(t, err)

	narrative, err := History(ctx, reloaded, ids[2])
	require.NoError(t, err)
	assert.Equal(t, []string{"page 0", "page 1"}, narrative.Segments)

	want, err := s.Edges(ctx, ids[0], EdgeAction)
	require.NoError(t, err)
	got, err := reloaded.Edges(ctx, ids[0], EdgeAction)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("edges after reload (-want +got):\n%s", diff)
	}
}

func TestMemoryStore_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewMemoryStore(path)
	assert.ErrorContains(t, err, "failed to decode graph snapshot")
}
