package feed

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSource resolves products from a map; ids listed in fail return an error.
type mapSource struct {
	rows map[string]*Row
	fail map[string]error
}

func (m *mapSource) Resolve(_ context.Context, id string) (*Row, error) {
	if err, ok := m.fail[id]; ok {
		return nil, err
	}
	row, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrProductNotFound)
	}
	return row, nil
}

func product(id, title, price string) *Row {
	return &Row{
		ID:           id,
		Title:        title,
		Availability: InStock,
		Price:        Money{Amount: decimal.RequireFromString(price), Currency: "EUR"},
		Link:         "https://shop.example/p/" + id,
		ImageLink:    "https://shop.example/img/" + id + ".jpg",
		Inventory:    3,
	}
}

func ids(list ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, id := range list {
			if !yield(id, nil) {
				return
			}
		}
	}
}

func newTestWriter(t *testing.T, src Source, opts Options) *Writer {
	t.Helper()
	paths := NewPaths(PathConfig{Dir: filepath.Join(t.TempDir(), "feeds"), FeedType: "catalog", Secret: "s3cret"})
	return NewWriter(paths, src, opts)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestPaths_DeterministicAndOverridable(t *testing.T) {
	cfg := PathConfig{Dir: "/srv/feeds", FeedType: "catalog", Secret: "abc"}

	a, b := NewPaths(cfg), NewPaths(cfg)
	assert.Equal(t, a, b)
	assert.Equal(t, "/srv/feeds", a.FileDirectory())
	assert.True(t, strings.HasPrefix(a.FileName(), "product_catalog_"))
	assert.True(t, strings.HasSuffix(a.FileName(), ".csv"))
	assert.Equal(t, "temp_"+a.FileName(), a.TempFileName())

	other := NewPaths(PathConfig{Dir: "/srv/feeds", FeedType: "product_sync", Secret: "abc"})
	assert.NotEqual(t, a.FileName(), other.FileName(), "feed types must not share a file")

	custom := NewPaths(PathConfig{Dir: "/tmp/x", FileName: "feed.csv", TempFileName: "feed.partial"})
	assert.Equal(t, "/tmp/x/feed.csv", custom.FilePath())
	assert.Equal(t, "/tmp/x/feed.partial", custom.TempFilePath())

	assert.Equal(t, filepath.Clean(DefaultDir), NewPaths(PathConfig{}).FileDirectory())
}

func TestRowValues_Formatting(t *testing.T) {
	sale := Money{Amount: decimal.RequireFromString("9.5"), Currency: "USD"}
	row := &Row{
		ID:                   "sku-1",
		Title:                `Mug, "large"`,
		Price:                Money{Amount: decimal.RequireFromString("1234.5"), Currency: "USD"},
		SalePrice:            &sale,
		AdditionalImageLinks: []string{"a.jpg", "b.jpg"},
		Inventory:            7,
	}

	values := row.Values()
	require.Len(t, values, len(Columns))
	assert.Equal(t, "1234.50 USD", values[5])
	assert.Equal(t, "9.50 USD", values[6])
	assert.Equal(t, "new", values[4])
	assert.Equal(t, "a.jpg,b.jpg", values[9])
	assert.Equal(t, "7", values[13])
}

func TestGenerate_WritesHeaderAndRowsInOrder(t *testing.T) {
	src := &mapSource{rows: map[string]*Row{
		"A": product("A", `Chair, "oak"`, "10"),
		"C": product("C", "Table", "99.999"),
	}, fail: map[string]error{"B": errors.New("attribute lookup exploded")}}
	w := newTestWriter(t, src, Options{})

	res, err := w.Generate(context.Background(), "catalog", ids("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, Stats{Written: 2, Skipped: 1}, res.Stats)
	assert.Equal(t, w.Paths().FilePath(), res.Path)

	lines := readLines(t, res.Path)
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(Columns, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `A,"Chair, ""oak""",`), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "C,Table,"), lines[2])
	assert.Contains(t, lines[2], "100.00 EUR")

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\r\n")

	_, err = os.Stat(w.Paths().TempFilePath())
	assert.True(t, errors.Is(err, os.ErrNotExist), "temp file must be gone after publish")
}

// panicSource panics for the ids in boom and defers to mapSource otherwise.
type panicSource struct {
	*mapSource
	boom map[string]bool
}

func (p *panicSource) Resolve(ctx context.Context, id string) (*Row, error) {
	if p.boom[id] {
		panic("nil attribute map for " + id)
	}
	return p.mapSource.Resolve(ctx, id)
}

func TestGenerate_ToleratesEveryKindOfProductFailure(t *testing.T) {
	src := &panicSource{
		mapSource: &mapSource{
			rows: map[string]*Row{"1": product("1", "a", "1"), "3": product("3", "c", "3"), "5": product("5", "e", "5")},
			fail: map[string]error{"4": errors.New("price lookup timed out")},
		},
		boom: map[string]bool{"2b": true},
	}
	w := newTestWriter(t, src, Options{})

	// "2" is unknown to the source, "2b" panics and "4" fails with an injected error.
	res, err := w.Generate(context.Background(), "catalog", ids("1", "2", "2b", "3", "4", "5"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Written)
	assert.Equal(t, 3, res.Stats.Skipped)

	lines := readLines(t, res.Path)
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "1,"))
	assert.True(t, strings.HasPrefix(lines[2], "3,"))
	assert.True(t, strings.HasPrefix(lines[3], "5,"))

	// The writer is free for the next run.
	_, err = os.Stat(w.Paths().TempFilePath())
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = w.Generate(context.Background(), "catalog", ids("1"))
	require.NoError(t, err)
}

func TestFailedRunKeepsPublishedFile(t *testing.T) {
	src := &mapSource{rows: map[string]*Row{"A": product("A", "a", "1"), "B": product("B", "b", "2")}}
	w := newTestWriter(t, src, Options{})

	_, err := w.Generate(context.Background(), "catalog", ids("A"))
	require.NoError(t, err)
	before, err := os.ReadFile(w.Paths().FilePath())
	require.NoError(t, err)

	t.Run("enumeration error", func(t *testing.T) {
		broken := func(yield func(string, error) bool) {
			if !yield("B", nil) {
				return
			}
			yield("", errors.New("connection reset"))
		}
		_, err := w.Generate(context.Background(), "catalog", broken)
		require.Error(t, err)

		after, err := os.ReadFile(w.Paths().FilePath())
		require.NoError(t, err)
		assert.Equal(t, before, after)
		_, err = os.Stat(w.Paths().TempFilePath())
		assert.True(t, errors.Is(err, os.ErrNotExist), "aborted run must discard its temp file")
	})

	t.Run("crash mid-write", func(t *testing.T) {
		crashing := func(yield func(string, error) bool) {
			if !yield("B", nil) {
				return
			}
			panic("simulated crash")
		}
		assert.Panics(t, func() {
			_, _ = w.Generate(context.Background(), "catalog", crashing)
		})

		after, err := os.ReadFile(w.Paths().FilePath())
		require.NoError(t, err)
		assert.Equal(t, before, after)
		_, err = os.Stat(w.Paths().TempFilePath())
		assert.True(t, errors.Is(err, os.ErrNotExist), "crashed run must discard its temp file")

		// The same writer runs again.
		res, err := w.Generate(context.Background(), "catalog", ids("A", "B"))
		require.NoError(t, err)
		assert.Len(t, readLines(t, res.Path), 3)
	})
}

func TestFinalizeTwice(t *testing.T) {
	src := &mapSource{rows: map[string]*Row{"A": product("A", "a", "1")}}
	w := newTestWriter(t, src, Options{})

	tf, err := w.PrepareTempFile()
	require.NoError(t, err)
	_, err = w.WriteRows(context.Background(), tf, ids("A"))
	require.NoError(t, err)

	require.NoError(t, w.Finalize())
	published, err := os.ReadFile(w.Paths().FilePath())
	require.NoError(t, err)

	err = w.Finalize()
	assert.True(t, errors.Is(err, ErrNoActiveFile), "got %v", err)

	again, err := os.ReadFile(w.Paths().FilePath())
	require.NoError(t, err)
	assert.Equal(t, published, again)
}

func TestPrepareTempFile(t *testing.T) {
	t.Run("rejects a second open", func(t *testing.T) {
		w := newTestWriter(t, &mapSource{}, Options{})
		_, err := w.PrepareTempFile()
		require.NoError(t, err)
		_, err = w.PrepareTempFile()
		assert.True(t, errors.Is(err, ErrWriteInProgress))
		require.NoError(t, w.Abort())
		assert.True(t, errors.Is(w.Abort(), ErrNoActiveFile))
	})

	t.Run("refuses to truncate an unrelated file", func(t *testing.T) {
		w := newTestWriter(t, &mapSource{}, Options{})
		require.NoError(t, os.MkdirAll(w.Paths().FileDirectory(), 0o750))
		require.NoError(t, os.WriteFile(w.Paths().TempFilePath(), []byte("operator notes\n"), 0o644))

		_, err := w.PrepareTempFile()
		assert.True(t, errors.Is(err, ErrUnrelatedFile), "got %v", err)

		data, err := os.ReadFile(w.Paths().TempFilePath())
		require.NoError(t, err)
		assert.Equal(t, "operator notes\n", string(data))
	})

	t.Run("replaces its own leftover", func(t *testing.T) {
		w := newTestWriter(t, &mapSource{}, Options{})
		require.NoError(t, os.MkdirAll(w.Paths().FileDirectory(), 0o750))
		leftover := strings.Join(Columns, ",") + "\nhalf,a,row\n"
		require.NoError(t, os.WriteFile(w.Paths().TempFilePath(), []byte(leftover), 0o644))

		_, err := w.PrepareTempFile()
		require.NoError(t, err)
		require.NoError(t, w.Finalize())
		assert.Equal(t, []string{strings.Join(Columns, ",")}, readLines(t, w.Paths().FilePath()))
	})

	t.Run("protects the directory", func(t *testing.T) {
		w := newTestWriter(t, &mapSource{}, Options{})
		_, err := w.PrepareTempFile()
		require.NoError(t, err)
		defer w.Abort()

		_, err = os.Stat(filepath.Join(w.Paths().FileDirectory(), AccessFileName))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(w.Paths().FileDirectory(), IndexFileName))
		assert.NoError(t, err)
	})
}

func TestProtectDirectory_NeverOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")

	require.NoError(t, ProtectDirectory(dir))
	access, err := os.ReadFile(filepath.Join(dir, AccessFileName))
	require.NoError(t, err)
	assert.Equal(t, "deny from all\n", string(access))
	index, err := os.ReadFile(filepath.Join(dir, IndexFileName))
	require.NoError(t, err)
	assert.Empty(t, index)

	custom := "Require all denied\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, AccessFileName), []byte(custom), 0o644))
	require.NoError(t, ProtectDirectory(dir))

	access, err = os.ReadFile(filepath.Join(dir, AccessFileName))
	require.NoError(t, err)
	assert.Equal(t, custom, string(access))
}

func TestWriteRows_Progress(t *testing.T) {
	src := &mapSource{rows: map[string]*Row{}}
	var list []string
	for i := 0; i < 7; i++ {
		id := fmt.Sprint(i)
		list = append(list, id)
		if i != 4 {
			src.rows[id] = product(id, "p", "1")
		}
	}

	var seen []Stats
	w := newTestWriter(t, src, Options{
		ProgressEvery: 3,
		OnProgress: func(_ context.Context, s Stats) error {
			seen = append(seen, s)
			return nil
		},
	})

	res, err := w.Generate(context.Background(), "catalog", ids(list...))
	require.NoError(t, err)
	assert.Equal(t, Stats{Written: 6, Skipped: 1}, res.Stats)
	assert.Equal(t, []Stats{{Written: 3}, {Written: 5, Skipped: 1}}, seen)
}

func TestWriteRows_ProgressErrorStops(t *testing.T) {
	src := &mapSource{rows: map[string]*Row{"a": product("a", "a", "1"), "b": product("b", "b", "1")}}
	stop := errors.New("job reclaimed")
	w := newTestWriter(t, src, Options{
		ProgressEvery: 1,
		OnProgress:    func(context.Context, Stats) error { return stop },
	})

	_, err := w.Generate(context.Background(), "catalog", ids("a", "b"))
	assert.True(t, errors.Is(err, stop))
	_, statErr := os.Stat(w.Paths().FilePath())
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestWriteRows_Cancelled(t *testing.T) {
	src := &mapSource{rows: map[string]*Row{"a": product("a", "a", "1")}}
	w := newTestWriter(t, src, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Generate(ctx, "catalog", ids("a"))
	assert.True(t, errors.Is(err, context.Canceled))
	_, statErr := os.Stat(w.Paths().TempFilePath())
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}
