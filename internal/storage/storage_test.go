package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "lanesched/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}

	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err, "file driver needs a path")
}

func TestStoreRecentRuns(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			path := filepath.Join(t.TempDir(), "runs.db")
			st, err := Open(Config{Driver: driver, Path: path, KeepPerJob: 3}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			base := time.Now().Add(-time.Hour)
			for i := 1; i <= 4; i++ {
				require.NoError(t, st.AppendRun(ctx, RunRecord{
					Job:       "tick",
					Scheduler: "main",
					Kind:      "periodic",
					Seq:       uint64(i),
					StartedAt: base.Add(time.Duration(i) * time.Minute),
					Took:      time.Millisecond,
				}))
			}
			require.NoError(t, st.AppendRun(ctx, RunRecord{Job: "other", Kind: "once", Error: "boom"}))

			runs, err := st.RecentRuns(ctx, "tick", 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, uint64(4), runs[0].Seq)
			assert.Equal(t, uint64(3), runs[1].Seq)
			assert.NotEmpty(t, runs[0].ID)
			assert.Equal(t, time.Millisecond, runs[0].Took)

			other, err := st.RecentRuns(ctx, "other", 10)
			require.NoError(t, err)
			require.Len(t, other, 1)
			assert.Equal(t, "boom", other[0].Error)
			assert.False(t, other[0].StartedAt.IsZero())

			none, err := st.RecentRuns(ctx, "missing", 5)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "lanesched.json")
	cfg := Config{Driver: "file", Path: path, KeepPerJob: 2}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, st.AppendRun(ctx, RunRecord{Job: "j", Seq: uint64(i)}))
	}
	require.NoError(t, st.Close())
	require.Error(t, st.AppendRun(ctx, RunRecord{Job: "j"}))

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.RecentRuns(ctx, "j", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2, "replay keeps only the newest runs")
	assert.Equal(t, uint64(3), runs[0].Seq)
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "lanesched.json")
	st, err := Open(Config{Driver: "file", Path: path, KeepPerJob: 5}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	for i := 0; i < compactEvery; i++ {
		require.NoError(t, st.AppendRun(ctx, RunRecord{Job: "j", Seq: uint64(i)}))
	}

	b, err := os.ReadFile(filepath.Join(filepath.Dir(path), "lanesched.runs.jsonl"))
	require.NoError(t, err)
	lines := 0
	for _, c := range b {
		if c == '\n' {
			lines++
		}
	}
	assert.Equal(t, 5, lines)

	require.NoError(t, st.AppendRun(ctx, RunRecord{Job: "j", Seq: compactEvery}))
	runs, err := st.RecentRuns(ctx, "j", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(compactEvery), runs[0].Seq)
}
