package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giagar5/ADO-MPP/internal/testutil"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

func TestRunNestedHierarchyWithDependency(t *testing.T) {
	t.Parallel()

	items := []workitem.WorkItem{
		testutil.Item(1, workitem.TypeEpic, "A", testutil.PredecessorOf(3)),
		testutil.Item(2, workitem.TypeFeature, "B", testutil.ChildOf(1)),
		testutil.Item(3, workitem.TypeTask, "C", testutil.ChildOf(2)),
	}

	result, err := Run(context.Background(), items, nil, Options{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, result.Sequence)
	assert.True(t, result.UsedHierarchy)
	assert.Equal(t, 1, result.OutlineLevel(1))
	assert.Equal(t, 2, result.OutlineLevel(2))
	assert.Equal(t, 3, result.OutlineLevel(3))
	assert.Equal(t, "1", result.Predecessors(3))
	assert.Empty(t, result.Predecessors(1))
	assert.Empty(t, result.Warnings)
}

func TestRunFetchesMissingAncestor(t *testing.T) {
	t.Parallel()

	fetcher := testutil.NewStubFetcher(testutil.Item(99, workitem.TypeEpic, "Root"))
	items := []workitem.WorkItem{
		testutil.Item(5, workitem.TypeTask, "D", testutil.ChildOf(99)),
	}

	result, err := Run(context.Background(), items, fetcher, Options{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Len())
	assert.Equal(t, []int{99, 5}, result.Sequence)
	assert.Equal(t, 1, result.OutlineLevel(99))
	assert.Equal(t, 2, result.OutlineLevel(5))
	assert.Equal(t, [][]int{{99}}, fetcher.Calls)
	assert.Equal(t, []int{99}, result.Ancestors.Added)

	root, ok := result.Item(99)
	require.True(t, ok)
	assert.Equal(t, "Root", root.Title)
}

func TestRunFallsBackToTypeOrder(t *testing.T) {
	t.Parallel()

	items := []workitem.WorkItem{
		testutil.Item(10, workitem.TypeBug, "X"),
		testutil.Item(11, workitem.TypeEpic, "Y"),
	}

	result, err := Run(context.Background(), items, nil, Options{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{11, 10}, result.Sequence)
	assert.False(t, result.UsedHierarchy)
	assert.Equal(t, 1, result.OutlineLevel(11))
	assert.Equal(t, 4, result.OutlineLevel(10))
}

func TestRunRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), nil, nil, Options{}, nil)
	require.ErrorIs(t, err, ErrNoItems)
}

func TestRunSkipsDuplicateInputIDs(t *testing.T) {
	t.Parallel()

	items := []workitem.WorkItem{
		testutil.Item(1, workitem.TypeEpic, "first"),
		testutil.Item(1, workitem.TypeEpic, "second"),
	}

	result, err := Run(context.Background(), items, nil, Options{}, nil)
	require.NoError(t, err)

	require.Equal(t, []int{1}, result.Sequence)
	item, _ := result.Item(1)
	assert.Equal(t, "first", item.Title)
}

func TestRunUsesConfiguredDelimiter(t *testing.T) {
	t.Parallel()

	items := []workitem.WorkItem{
		testutil.Item(1, workitem.TypeTask, "a", testutil.PredecessorOf(3)),
		testutil.Item(2, workitem.TypeTask, "b", testutil.PredecessorOf(3)),
		testutil.Item(3, workitem.TypeTask, "c"),
	}

	result, err := Run(context.Background(), items, nil, Options{Delimiter: ","}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1,2", result.Predecessors(3))
}

func TestRunReportsConflictingParents(t *testing.T) {
	t.Parallel()

	items := []workitem.WorkItem{
		testutil.Item(1, workitem.TypeEpic, "E1"),
		testutil.Item(2, workitem.TypeEpic, "E2"),
		testutil.Item(3, workitem.TypeTask, "T", testutil.ChildOf(1), testutil.ChildOf(2)),
	}

	result, err := Run(context.Background(), items, nil, Options{}, nil)
	require.NoError(t, err)

	require.Len(t, result.Sequence, 3)
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, 2, result.OutlineLevel(3))
}

func TestRunWarnsWhenAncestorsCannotBeFetched(t *testing.T) {
	t.Parallel()

	items := []workitem.WorkItem{
		testutil.Item(5, workitem.TypeTask, "D", testutil.ChildOf(99)),
	}

	result, err := Run(context.Background(), items, nil, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, result.Sequence)
	assert.Equal(t, []int{99}, result.Ancestors.Unresolved)
	assert.NotEmpty(t, result.Warnings)

	fetcher := testutil.NewStubFetcher()
	fetcher.Err = errors.New("service unavailable")
	result, err = Run(context.Background(), items, fetcher, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, result.Sequence)
	assert.Equal(t, 4, result.OutlineLevel(5))
}

func TestRunReturnsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := testutil.NewStubFetcher()
	fetcher.Err = context.Canceled
	items := []workitem.WorkItem{
		testutil.Item(5, workitem.TypeTask, "D", testutil.ChildOf(99)),
	}

	_, err := Run(ctx, items, fetcher, Options{}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	items := generateForest(60, 7)
	first, err := Run(context.Background(), items, nil, Options{MaxOutlineHops: 100}, nil)
	require.NoError(t, err)
	second, err := Run(context.Background(), items, nil, Options{MaxOutlineHops: 100}, nil)
	require.NoError(t, err)

	require.Equal(t, first.Sequence, second.Sequence)
	for _, id := range first.Sequence {
		assert.Equal(t, first.OutlineLevel(id), second.OutlineLevel(id), "level of %d", id)
		assert.Equal(t, first.Predecessors(id), second.Predecessors(id), "predecessors of %d", id)
	}
}

func TestRunOrderIgnoresInputOrder(t *testing.T) {
	t.Parallel()

	forest := generateForest(40, 3)
	flat := make([]workitem.WorkItem, 0, len(forest))
	for _, item := range forest {
		flat = append(flat, testutil.Item(item.ID, item.Type, item.Title))
	}

	for _, items := range [][]workitem.WorkItem{forest, flat} {
		base, err := Run(context.Background(), items, nil, Options{MaxOutlineHops: 100}, nil)
		require.NoError(t, err)
		for seed := 1; seed <= 5; seed++ {
			got, err := Run(context.Background(), testutil.Shuffled(items, seed), nil, Options{MaxOutlineHops: 100}, nil)
			require.NoError(t, err)
			require.Equal(t, base.Sequence, got.Sequence, "seed %d", seed)
		}
	}
}

func TestRunGeneratedForestProperties(t *testing.T) {
	t.Parallel()

	for seed := 1; seed <= 8; seed++ {
		seed := seed
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			t.Parallel()

			items := generateForest(50, seed)
			result, err := Run(context.Background(), items, nil, Options{MaxOutlineHops: 100}, nil)
			require.NoError(t, err)

			positions := testutil.Positions(t, result.Sequence)
			require.Len(t, positions, len(items), "every item is exported exactly once")

			parents := map[int]int{}
			children := map[int][]int{}
			predecessorsOf := map[int]map[int]bool{}
			for _, item := range items {
				for _, rel := range item.Relations {
					target, ok := workitem.ParseTargetID(rel.URL)
					require.True(t, ok)
					switch rel.Rel {
					case workitem.RelHierarchyReverse:
						parents[item.ID] = target
						children[target] = append(children[target], item.ID)
					case workitem.RelDependencyForward:
						if predecessorsOf[target] == nil {
							predecessorsOf[target] = map[int]bool{}
						}
						predecessorsOf[target][item.ID] = true
					}
				}
			}

			for child, parent := range parents {
				assert.Less(t, positions[parent], positions[child], "parent %d before child %d", parent, child)
				assert.Equal(t, result.OutlineLevel(parent)+1, result.OutlineLevel(child),
					"child %d is one level below parent %d", child, parent)
			}

			var subtreeSize func(id int) int
			subtreeSize = func(id int) int {
				size := 1
				for _, child := range children[id] {
					size += subtreeSize(child)
				}
				return size
			}
			var collect func(id int, into map[int]bool)
			collect = func(id int, into map[int]bool) {
				into[id] = true
				for _, child := range children[id] {
					collect(child, into)
				}
			}
			for _, item := range items {
				size := subtreeSize(item.ID)
				start := positions[item.ID]
				descendants := map[int]bool{}
				collect(item.ID, descendants)
				for _, id := range result.Sequence[start-1 : start-1+size] {
					assert.True(t, descendants[id], "subtree of %d is contiguous", item.ID)
				}
			}

			for _, id := range result.Sequence {
				rendered := result.Predecessors(id)
				if rendered == "" {
					assert.Empty(t, predecessorsOf[id], "item %d lost predecessors", id)
					continue
				}
				numbers := strings.Split(rendered, ";")
				assert.Len(t, numbers, len(predecessorsOf[id]))
				previous := 0
				for _, raw := range numbers {
					n, err := strconv.Atoi(raw)
					require.NoError(t, err)
					require.GreaterOrEqual(t, n, 1)
					require.LessOrEqual(t, n, len(result.Sequence))
					assert.Greater(t, n, previous, "ascending predecessor numbers")
					previous = n
					assert.True(t, predecessorsOf[id][result.Sequence[n-1]],
						"task %d is a predecessor of %d", result.Sequence[n-1], id)
				}
			}
		})
	}
}

// generateForest builds n items where every item either starts a tree or
// hangs under an earlier item, plus a sprinkle of dependency links.
func generateForest(n, seed int) []workitem.WorkItem {
	state := uint32(seed)*2654435761 + 7
	next := func() int {
		state = state*1664525 + 1013904223
		return int(state >> 8)
	}

	titles := []string{"alpha", "beta", "gamma", "delta"}
	types := []string{workitem.TypeFeature, workitem.TypeUserStory, workitem.TypeTask, workitem.TypeBug}

	items := make([]workitem.WorkItem, 0, n)
	items = append(items, testutil.Item(1, workitem.TypeEpic, titles[next()%len(titles)]))
	for id := 2; id <= n; id++ {
		title := titles[next()%len(titles)]
		if next()%5 == 0 {
			items = append(items, testutil.Item(id, workitem.TypeEpic, title))
			continue
		}
		parent := 1 + next()%(id-1)
		items = append(items, testutil.Item(id, types[next()%len(types)], title, testutil.ChildOf(parent)))
	}

	for k := 0; k < n/2; k++ {
		from := 1 + next()%n
		to := 1 + next()%n
		if from == to {
			continue
		}
		items[from-1].Relations = append(items[from-1].Relations, testutil.PredecessorOf(to))
	}
	return items
}
