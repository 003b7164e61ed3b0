package referral

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"earnhub/internal/models"
	"earnhub/internal/testdb"
)

func ptr(v uint) *uint { return &v }

func TestGraphUplinesLevelTagged(t *testing.T) {
	g := NewGraph([]models.User{
		{ID: 1},
		{ID: 2, UplineID: ptr(1), Qualified: true},
		{ID: 3, UplineID: ptr(2)},
		{ID: 4, UplineID: ptr(3), Blocked: true},
		{ID: 5, UplineID: ptr(4)},
	})

	chain, err := g.Uplines(5, 10)
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.Equal(t, Ancestor{UserID: 4, Level: 1, Blocked: true}, chain[0])
	assert.Equal(t, Ancestor{UserID: 3, Level: 2}, chain[1])
	assert.Equal(t, Ancestor{UserID: 2, Level: 3, Qualified: true}, chain[2])
	assert.Equal(t, Ancestor{UserID: 1, Level: 4}, chain[3])

	chain, err = g.Uplines(5, 2)
	require.NoError(t, err)
	assert.Len(t, chain, 2)

	chain, err = g.Uplines(1, 3)
	require.NoError(t, err)
	assert.Empty(t, chain)

	chain, err = g.Uplines(42, 3)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestGraphTruncatesAtMissingUpline(t *testing.T) {
	g := NewGraph([]models.User{
		{ID: 2, UplineID: ptr(99)},
		{ID: 3, UplineID: ptr(2)},
	})
	chain, err := g.Uplines(3, 5)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, uint(2), chain[0].UserID)
}

func TestGraphRejectsCycles(t *testing.T) {
	g := NewGraph([]models.User{
		{ID: 1, UplineID: ptr(3)},
		{ID: 2, UplineID: ptr(1)},
		{ID: 3, UplineID: ptr(2)},
	})
	chain, err := g.Uplines(1, 10)
	require.ErrorIs(t, err, ErrCycle)
	assert.Len(t, chain, 2)

	self := NewGraph([]models.User{{ID: 7, UplineID: ptr(7)}})
	_, err = self.Uplines(7, 3)
	require.ErrorIs(t, err, ErrCycle)
}

// seedTeam builds root -> a, b ; a -> c (qualified), d ; c -> e ; e -> f.
func seedTeam(t *testing.T, db *gorm.DB) map[string]uint {
	t.Helper()
	ids := map[string]uint{}
	create := func(name string, upline string, qualified bool) {
		u := models.User{Username: name, Qualified: qualified}
		if upline != "" {
			u.UplineID = ptr(ids[upline])
		}
		require.NoError(t, db.Create(&u).Error)
		ids[name] = u.ID
	}
	create("root", "", false)
	create("a", "root", true)
	create("b", "root", false)
	create("c", "a", true)
	create("d", "a", false)
	create("e", "c", true)
	create("f", "e", true)
	return ids
}

func TestTeamStats(t *testing.T) {
	db := testdb.Open(t)
	ids := seedTeam(t, db)
	w := NewWalker(db, nil, time.Minute)

	stats, err := w.TeamStats(context.Background(), ids["root"])
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Direct)
	assert.Equal(t, 1, stats.DirectActive)
	assert.Equal(t, 2, stats.SecondLevel)
	assert.Equal(t, 1, stats.SecondLevelActive)

	leaf, err := w.TeamStats(context.Background(), ids["f"])
	require.NoError(t, err)
	assert.Zero(t, leaf.Direct)
	assert.Zero(t, leaf.SecondLevel)
}

func TestTeamStatsCached(t *testing.T) {
	db := testdb.Open(t)
	ids := seedTeam(t, db)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	w := NewWalker(db, rdb, time.Minute)
	ctx := context.Background()

	first, err := w.TeamStats(ctx, ids["root"])
	require.NoError(t, err)
	assert.True(t, mr.Exists(teamStatsKey(ids["root"])))

	require.NoError(t, db.Create(&models.User{Username: "late", UplineID: ptr(ids["root"])}).Error)
	cached, err := w.TeamStats(ctx, ids["root"])
	require.NoError(t, err)
	assert.Equal(t, first.Direct, cached.Direct, "served from cache within ttl")

	mr.FastForward(2 * time.Minute)
	fresh, err := w.TeamStats(ctx, ids["root"])
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.Direct)
}

func TestBuildTeamTreeCapsDepth(t *testing.T) {
	db := testdb.Open(t)
	ids := seedTeam(t, db)
	w := NewWalker(db, nil, 0)

	tree, err := w.BuildTeamTree(context.Background(), ids["root"], 10)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	a := tree.Children[0]
	assert.Equal(t, "a", a.Username)
	assert.Equal(t, 1, a.Level)
	require.Len(t, a.Children, 2)
	c := a.Children[0]
	assert.Equal(t, 2, c.Level)
	require.Len(t, c.Children, 1)
	e := c.Children[0]
	assert.Equal(t, 3, e.Level)
	assert.Empty(t, e.Children, "level four is omitted")

	shallow, err := w.BuildTeamTree(context.Background(), ids["root"], 1)
	require.NoError(t, err)
	for _, child := range shallow.Children {
		assert.Empty(t, child.Children)
	}

	_, err = w.BuildTeamTree(context.Background(), 999, 2)
	require.Error(t, err)
}

func TestLoadGraph(t *testing.T) {
	db := testdb.Open(t)
	ids := seedTeam(t, db)
	g, err := LoadGraph(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 7, g.Len())

	chain, err := g.Uplines(ids["f"], 3)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, ids["e"], chain[0].UserID)
	assert.Equal(t, ids["c"], chain[1].UserID)
	assert.Equal(t, ids["a"], chain[2].UserID)
	assert.True(t, chain[2].Qualified)
}
