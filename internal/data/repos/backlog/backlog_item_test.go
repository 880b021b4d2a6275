package backlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/activitylog-backend/internal/data/repos/testutil"
	types "github.com/yungbote/activitylog-backend/internal/domain"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
)

func TestBacklogItemRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewBacklogItemRepo(db, testutil.Logger(t))
	queue := testutil.Unique("q")

	n, err := repo.Seed(dbc, queue, []string{"a", "b", "a", " ", "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.Seed(dbc, queue, []string{"b", "d"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "existing subjects are kept as they are")

	first, err := repo.Claim(dbc, queue, ClaimPolicy{})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.SubjectKey)
	assert.Equal(t, 1, first.Attempts)
	require.NotNil(t, first.StartedAt)

	require.NoError(t, repo.Fail(dbc, first.ID, "boom"))
	require.NoError(t, repo.Finish(dbc, first.ID))

	var stored types.BacklogItem
	require.NoError(t, tx.First(&stored, first.ID).Error)
	assert.True(t, stored.Finished())
	assert.Empty(t, stored.LastError)

	seen := map[string]bool{"a": true}
	for i := 0; i < 3; i++ {
		item, err := repo.Claim(dbc, queue, ClaimPolicy{})
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.False(t, seen[item.SubjectKey], "claimed twice: %s", item.SubjectKey)
		seen[item.SubjectKey] = true
	}

	empty, err := repo.Claim(dbc, queue, ClaimPolicy{})
	require.NoError(t, err)
	assert.Nil(t, empty)

	stats, err := repo.Stats(dbc, queue, ClaimPolicy{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Queue: queue, Pending: 0, Claimed: 3, Finished: 1}, stats)
}

func TestBacklogItemRepoReclaimsExpiredClaims(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	r := NewBacklogItemRepo(db, testutil.Logger(t)).(*backlogItemRepo)
	queue := testutil.Unique("q")

	clock := time.Date(2024, 2, 1, 20, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	_, err := r.Seed(dbc, queue, []string{"only"})
	require.NoError(t, err)

	policy := ClaimPolicy{ClaimTTL: time.Hour, MaxAttempts: 2}
	item, err := r.Claim(dbc, queue, policy)
	require.NoError(t, err)
	require.NotNil(t, item)

	again, err := r.Claim(dbc, queue, policy)
	require.NoError(t, err)
	assert.Nil(t, again, "fresh claim must not be taken")

	clock = clock.Add(2 * time.Hour)
	again, err = r.Claim(dbc, queue, policy)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, item.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)

	clock = clock.Add(2 * time.Hour)
	exhausted, err := r.Claim(dbc, queue, policy)
	require.NoError(t, err)
	assert.Nil(t, exhausted, "max attempts reached")

	stats, err := r.Stats(dbc, queue, policy)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Exhausted)

	reset, err := r.ResetStuck(dbc, queue, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	back, err := r.Claim(dbc, queue, policy)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, 1, back.Attempts)
}

func TestBacklogItemRepoSeedFromPersons(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewBacklogItemRepo(db, testutil.Logger(t))
	queue := testutil.Unique("q")

	ident := testutil.Ident()
	require.NoError(t, tx.Exec(`INSERT INTO person (ident) VALUES (?)`, ident).Error)

	n, err := repo.SeedFromPersons(dbc, queue)
	require.NoError(t, err)
	assert.Positive(t, n)

	var count int64
	require.NoError(t, tx.Model(&types.BacklogItem{}).Where("queue = ? AND subject_key = ?", queue, ident).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	again, err := repo.SeedFromPersons(dbc, queue)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestBacklogItemRepoConcurrentClaimsAreExclusive(t *testing.T) {
	db := testutil.DB(t)
	repo := NewBacklogItemRepo(db, testutil.Logger(t))
	queue := testutil.Unique("q")
	t.Cleanup(func() {
		_ = db.Where("queue = ?", queue).Delete(&types.BacklogItem{}).Error
	})

	const items = 60
	subjects := make([]string, items)
	for i := range subjects {
		subjects[i] = testutil.Unique("s")
	}
	_, err := repo.Seed(dbctx.Context{Ctx: context.Background()}, queue, subjects)
	require.NoError(t, err)

	var mu sync.Mutex
	claimedBy := map[int64]int{}
	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < 6; w++ {
		g.Go(func() error {
			for {
				item, err := repo.Claim(dbctx.Context{Ctx: ctx}, queue, ClaimPolicy{})
				if err != nil {
					return err
				}
				if item == nil {
					// An empty result can also be a lost race; stop only once nothing is pending.
					stats, err := repo.Stats(dbctx.Context{Ctx: ctx}, queue, ClaimPolicy{})
					if err != nil {
						return err
					}
					if stats.Pending == 0 {
						return nil
					}
					continue
				}
				mu.Lock()
				_, dup := claimedBy[item.ID]
				claimedBy[item.ID] = w
				mu.Unlock()
				assert.False(t, dup, "item %d claimed twice", item.ID)
				if err := repo.Finish(dbctx.Context{Ctx: ctx}, item.ID); err != nil {
					return err
				}
			}
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, claimedBy, items)

	stats, err := repo.Stats(dbctx.Context{Ctx: context.Background()}, queue, ClaimPolicy{})
	require.NoError(t, err)
	assert.Equal(t, int64(items), stats.Finished)
}
