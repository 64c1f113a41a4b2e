package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

type flagStore interface {
	GetFlag(ctx context.Context, userID, namespace, key string, out any) (bool, error)
	SetFlag(ctx context.Context, userID, namespace, key string, value any) error
	FlagKeys(ctx context.Context, userID, namespace string) ([]string, error)
	FlagUsers(ctx context.Context) ([]string, error)
}

type directory interface {
	SaveActor(ctx context.Context, actor *models.Actor) error
	Actor(ctx context.Context, id string) (*models.Actor, error)
	Actors(ctx context.Context) ([]models.Actor, error)
	PartyMembers(ctx context.Context) ([]models.Actor, error)
	SetParty(ctx context.Context, actorIDs []string) error
	SaveUser(ctx context.Context, user *models.User) error
	User(ctx context.Context, id string) (*models.User, error)
	GMs(ctx context.Context) ([]models.User, error)
}

// exerciseFlags 各实现共用的标记行为
func exerciseFlags(t *testing.T, store flagStore) {
	t.Helper()
	ctx := context.Background()

	var attempts map[string]int
	found, err := store.GetFlag(ctx, "u1", "recallAttempts", "a1", &attempts)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetFlag(ctx, "u1", "recallAttempts", "a1", map[string]int{"t1": 2}))
	require.NoError(t, store.SetFlag(ctx, "u1", "recallAttempts", "a1", map[string]int{"t1": 3}))
	require.NoError(t, store.SetFlag(ctx, "u1", "recallAttempts", "a0", map[string]int{}))
	require.NoError(t, store.SetFlag(ctx, "u2", "diverseRecognition", "a2", true))

	found, err = store.GetFlag(ctx, "u1", "recallAttempts", "a1", &attempts)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]int{"t1": 3}, attempts)

	var used bool
	found, err = store.GetFlag(ctx, "u2", "diverseRecognition", "a2", &used)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, used)

	keys, err := store.FlagKeys(ctx, "u1", "recallAttempts")
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1"}, keys)

	keys, err = store.FlagKeys(ctx, "u1", "nothing")
	require.NoError(t, err)
	assert.Empty(t, keys)

	users, err := store.FlagUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)
}

// exerciseDirectory 各实现共用的宿主数据行为
func exerciseDirectory(t *testing.T, dir directory) {
	t.Helper()
	ctx := context.Background()

	missing, err := dir.Actor(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	dragon := &models.Actor{
		ID: "dragon", Name: "Young Red Dragon", Type: "npc", Level: 10,
		Traits:     []string{"dragon", "fire"},
		Weaknesses: []models.Defense{{Type: "cold", Value: 10}},
	}
	require.NoError(t, dir.SaveActor(ctx, dragon))
	assert.False(t, dragon.UpdatedAt.IsZero())
	require.NoError(t, dir.SaveActor(ctx, &models.Actor{ID: "ezren", Name: "Ezren", Type: "character"}))
	require.NoError(t, dir.SaveActor(ctx, &models.Actor{ID: "kyra", Name: "Kyra", Type: "character"}))

	got, err := dir.Actor(ctx, "dragon")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.Level)
	assert.Equal(t, []models.Defense{{Type: "cold", Value: 10}}, got.Weaknesses)

	all, err := dir.Actors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Ezren", all[0].Name)
	assert.Equal(t, "Young Red Dragon", all[2].Name)

	require.NoError(t, dir.SetParty(ctx, []string{"kyra", "ezren", "ghost"}))
	party, err := dir.PartyMembers(ctx)
	require.NoError(t, err)
	require.Len(t, party, 2)
	assert.Equal(t, "kyra", party[0].ID)
	assert.Equal(t, "ezren", party[1].ID)

	require.NoError(t, dir.SetParty(ctx, []string{"ezren"}))
	party, err = dir.PartyMembers(ctx)
	require.NoError(t, err)
	require.Len(t, party, 1)

	nobody, err := dir.User(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, nobody)

	require.NoError(t, dir.SaveUser(ctx, &models.User{ID: "player", Name: "Player"}))
	require.NoError(t, dir.SaveUser(ctx, &models.User{ID: "gm2", Name: "Co-GM", IsGM: true}))
	require.NoError(t, dir.SaveUser(ctx, &models.User{ID: "gm1", Name: "GM", IsGM: true}))

	u, err := dir.User(ctx, "gm1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.IsGM)

	gms, err := dir.GMs(ctx)
	require.NoError(t, err)
	require.Len(t, gms, 2)
	assert.Equal(t, "gm1", gms[0].ID)
	assert.Equal(t, "gm2", gms[1].ID)
}

func newSQLite(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteFlags(t *testing.T) {
	exerciseFlags(t, newSQLite(t))
}

func TestSQLiteDirectory(t *testing.T) {
	exerciseDirectory(t, newSQLite(t))
}

func TestSQLiteCreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "recall.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.SetFlag(context.Background(), "u1", "settings", "bestiaryScholarSkill", "nature"))
	require.NoError(t, s.Close())

	// 重新打开后数据仍在
	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	var skill string
	found, err := s.GetFlag(context.Background(), "u1", "settings", "bestiaryScholarSkill", &skill)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "nature", skill)
}

func TestMemoryFlags(t *testing.T) {
	exerciseFlags(t, NewMemoryStore())
}

func TestMemoryDirectory(t *testing.T) {
	exerciseDirectory(t, NewMemoryStore())
}

func TestMemoryActorIsCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	a := &models.Actor{ID: "ezren", Name: "Ezren", Traits: []string{"human"}}
	require.NoError(t, m.SaveActor(ctx, a))

	a.Name = "changed"
	got, err := m.Actor(ctx, "ezren")
	require.NoError(t, err)
	assert.Equal(t, "Ezren", got.Name)
}
