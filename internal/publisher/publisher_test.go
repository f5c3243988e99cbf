package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/northshore/blockindex/internal/index"
	"github.com/northshore/blockindex/internal/stager"
	"github.com/northshore/blockindex/pkg/types"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func stageBatch(t *testing.T, dir string, names ...string) *stager.Batch {
	t.Helper()
	s, err := stager.Open(dir, 0, zap.NewNop())
	require.NoError(t, err)
	for _, name := range names {
		s.Stage(&types.BlockMetadataRecord{
			SourceFile:   "plans/site.dwg",
			Handle:       "H-" + name,
			Name:         name,
			LastModified: time.Now(),
		})
	}
	batch, err := s.Close()
	require.NoError(t, err)
	return batch
}

func TestPublishSuccess(t *testing.T) {
	stagingDir := t.TempDir()
	idx, err := index.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	batch := stageBatch(t, stagingDir, "Valve", "Pump", "Tank")

	p := New(idx, 2, fastRetry(), t.TempDir(), zap.NewNop())
	report := p.Publish(context.Background(), batch)

	assert.Equal(t, 3, report.Published)
	assert.Zero(t, report.DeadLettered)
	assert.Empty(t, report.Errors)

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Staged files are reclaimed after confirmed publication.
	_, err = os.Stat(batch.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestPublishIsIdempotent(t *testing.T) {
	idx, err := index.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	p := New(idx, 100, fastRetry(), t.TempDir(), zap.NewNop())

	for i := 0; i < 2; i++ {
		batch := stageBatch(t, t.TempDir(), "Valve", "Pump")
		report := p.Publish(context.Background(), batch)
		require.Empty(t, report.Errors)
	}

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// failingIndex refuses transactions a fixed number of times, then optionally
// keeps failing forever.
type failingIndex struct {
	index.Index
	failures *int
}

func (f *failingIndex) BeginTx(ctx context.Context) (index.Tx, error) {
	if *f.failures != 0 {
		if *f.failures > 0 {
			*f.failures--
		}
		return nil, errors.New("index unavailable")
	}
	return f.Index.BeginTx(ctx)
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	idx, err := index.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	failures := 2
	flaky := &failingIndex{Index: idx, failures: &failures}

	batch := stageBatch(t, t.TempDir(), "Valve")
	p := New(flaky, 100, fastRetry(), t.TempDir(), zap.NewNop())
	report := p.Publish(context.Background(), batch)

	assert.Equal(t, 1, report.Published)
	assert.Zero(t, report.DeadLettered)

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPublishDeadLettersOnExhaustedRetries(t *testing.T) {
	idx, err := index.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	failures := -1 // never recovers
	broken := &failingIndex{Index: idx, failures: &failures}

	deadLetterDir := filepath.Join(t.TempDir(), "deadletter")
	batch := stageBatch(t, t.TempDir(), "Valve", "Pump")

	p := New(broken, 100, fastRetry(), deadLetterDir, zap.NewNop())
	report := p.Publish(context.Background(), batch)

	assert.Zero(t, report.Published)
	assert.Equal(t, 1, report.DeadLettered)
	require.NotEmpty(t, report.Errors)

	// The staged files moved, they were not dropped.
	_, err = os.Stat(batch.Path)
	assert.True(t, os.IsNotExist(err))
	moved, err := os.ReadDir(deadLetterDir)
	require.NoError(t, err)
	assert.Len(t, moved, 2)
}

func TestPublishCancelledLeavesBatchStaged(t *testing.T) {
	idx, err := index.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	stagingDir := t.TempDir()
	batch := stageBatch(t, stagingDir, "Valve", "Pump")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(idx, 100, fastRetry(), t.TempDir(), zap.NewNop())
	report := p.Publish(ctx, batch)

	assert.Zero(t, report.Published)
	assert.Zero(t, report.DeadLettered)
	require.NotEmpty(t, report.Errors)

	// An interrupted run is not an index failure. The staged files stay
	// put so the next run's leftover scan picks the batch up.
	_, err = os.Stat(batch.Path)
	assert.NoError(t, err)
	_, err = os.Stat(batch.ManifestPath)
	assert.NoError(t, err)

	leftovers, err := stager.DiscoverBatches(stagingDir)
	require.NoError(t, err)
	assert.Len(t, leftovers, 1)
}

func TestPublishDeadLettersUnreadableBatch(t *testing.T) {
	idx, err := index.NewSQLiteIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	dir := t.TempDir()
	batch := &stager.Batch{
		ID:           "corrupt",
		Path:         filepath.Join(dir, "batch-corrupt.csv"),
		ManifestPath: filepath.Join(dir, "batch-corrupt.manifest.csv"),
	}
	require.NoError(t, os.WriteFile(batch.Path, []byte("not,a,valid\nrow count mismatch\n"), 0o644))
	require.NoError(t, os.WriteFile(batch.ManifestPath, []byte("SourceFile,Handle,EntityTypes\n"), 0o644))

	p := New(idx, 100, fastRetry(), filepath.Join(dir, "dead"), zap.NewNop())
	report := p.Publish(context.Background(), batch)

	assert.Equal(t, 1, report.DeadLettered)
	assert.Zero(t, report.Published)
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := retryWithBackoff(context.Background(), fastRetry(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		wantErr := errors.New("permanent")
		err := retryWithBackoff(context.Background(), fastRetry(), func() error {
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := retryWithBackoff(ctx, fastRetry(), func() error {
			calls++
			cancel()
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
