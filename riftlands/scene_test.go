package riftlands

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := CreateDB(
		context.Background(),
		dbTypeSQLite,
		filepath.Join(t.TempDir(), "riftlands_test.sqlite3"),
	)
	require.NoError(t, err)
	return db
}

func testSceneStore(t testing.TB) *SceneStore {
	t.Helper()
	return NewSceneStore(testDB(t), testSyncLogger(t))
}

func TestCurrentSceneSeedsStarter(t *testing.T) {
	t.Parallel()

	store := testSceneStore(t)
	ctx := context.Background()

	scene, err := store.CurrentScene(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultSceneID, scene.SceneID)
	assert.Equal(t, defaultSceneTitle, scene.Title)
	assert.True(t, scene.Current)

	// a second call returns the same row rather than seeding again
	again, err := store.CurrentScene(ctx)
	require.NoError(t, err)
	assert.Equal(t, scene.ID, again.ID)

	var count int64
	require.NoError(t, store.db.Model(&Scene{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAppendAction(t *testing.T) {
	t.Parallel()

	store := testSceneStore(t)
	ctx := context.Background()

	rec, err := store.AppendAction(ctx, "user-1", "meagan", "searches the snow")
	require.NoError(t, err)
	assert.Equal(t, defaultSceneID, rec.SceneID)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "meagan", rec.Username)
	assert.Equal(t, "searches the snow", rec.Action)
	assert.NotZero(t, rec.ID)

	count, err := store.ActionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecentActionsChronological(t *testing.T) {
	t.Parallel()

	store := testSceneStore(t)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		_, err := store.AppendAction(
			ctx,
			"user-1",
			"meagan",
			fmt.Sprintf("action %d", i),
		)
		require.NoError(t, err)
	}

	actions, err := store.RecentActions(ctx, recapActionCount)
	require.NoError(t, err)
	require.Len(t, actions, recapActionCount)

	// the most recent N, oldest first
	assert.Equal(t, "action 4", actions[0].Action)
	assert.Equal(t, "action 8", actions[4].Action)
}

func TestRecentActionsEmpty(t *testing.T) {
	t.Parallel()

	store := testSceneStore(t)
	actions, err := store.RecentActions(context.Background(), recapActionCount)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestRecapMessage(t *testing.T) {
	t.Parallel()

	scene := Scene{SceneID: defaultSceneID, Title: defaultSceneTitle}

	assert.Equal(
		t,
		"**Recap — The Cold Clearing**\nNo actions yet.",
		recapMessage(scene, nil),
	)

	actions := []SceneAction{
		{UserID: "1", Action: "lights a torch"},
		{UserID: "2", Action: "draws a blade"},
	}
	assert.Equal(
		t,
		"**Recap — The Cold Clearing**\n"+
			"• <@1>: lights a torch\n"+
			"• <@2>: draws a blade",
		recapMessage(scene, actions),
	)
}
