package riftlands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gorm.io/gorm"
)

const (
	// starter scene seeded on first run
	defaultSceneID    = "starter-clearing"
	defaultSceneTitle = "The Cold Clearing"

	// recapActionCount is the number of recent actions shown by /recap
	// and fed to the narrator
	recapActionCount = 5
)

// Scene is the unit of play: a location and situation the party is
// currently in. Exactly one scene is "current" at a time.
type Scene struct {
	ModelUintID
	ModelUnixTime
	SceneID string `gorm:"uniqueIndex" json:"scene_id"`
	Title   string `json:"title"`
	Current bool   `json:"current"`
}

func (s Scene) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("scene_id", s.SceneID),
		slog.String("title", s.Title),
		slog.Bool("current", s.Current),
	)
}

// SceneAction is one player action recorded against a scene, in the order
// it happened. The log is append-only.
type SceneAction struct {
	ModelUintID
	ModelUnixTime
	SceneID  string `gorm:"index" json:"scene_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Action   string `json:"action"`
}

// SceneStore reads and appends the session log. Writes are serialized
// with a mutex since sqlite is the default backend.
type SceneStore struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger
}

func NewSceneStore(db *gorm.DB, logger *slog.Logger) *SceneStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SceneStore{
		db:     db,
		logger: logger.With(loggerNameKey, "scene_store"),
	}
}

// CurrentScene returns the current scene, seeding the starter scene if
// the table is empty.
func (s *SceneStore) CurrentScene(ctx context.Context) (Scene, error) {
	var scene Scene
	err := s.db.WithContext(ctx).Where("current = ?", true).Take(&scene).Error
	if err == nil {
		return scene, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return scene, fmt.Errorf("error loading current scene: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scene = Scene{
		SceneID: defaultSceneID,
		Title:   defaultSceneTitle,
		Current: true,
	}
	if createErr := s.db.WithContext(ctx).Create(&scene).Error; createErr != nil {
		return scene, fmt.Errorf("error seeding starter scene: %w", createErr)
	}
	s.logger.InfoContext(ctx, "seeded starter scene", "scene", scene)
	return scene, nil
}

// AppendAction records a player action against the current scene.
func (s *SceneStore) AppendAction(
	ctx context.Context,
	userID string,
	username string,
	action string,
) (SceneAction, error) {
	scene, err := s.CurrentScene(ctx)
	if err != nil {
		return SceneAction{}, err
	}

	rec := SceneAction{
		SceneID:  scene.SceneID,
		UserID:   userID,
		Username: username,
		Action:   action,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return rec, fmt.Errorf("error recording scene action: %w", err)
	}
	return rec, nil
}

// RecentActions returns up to limit actions for the current scene, oldest
// first.
func (s *SceneStore) RecentActions(ctx context.Context, limit int) (
	[]SceneAction,
	error,
) {
	scene, err := s.CurrentScene(ctx)
	if err != nil {
		return nil, err
	}

	var actions []SceneAction
	err = s.db.WithContext(ctx).
		Where("scene_id = ?", scene.SceneID).
		Order("id desc").
		Limit(limit).
		Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("error loading scene actions: %w", err)
	}

	// reverse into chronological order
	for i, j := 0, len(actions)-1; i < j; i, j = i+1, j-1 {
		actions[i], actions[j] = actions[j], actions[i]
	}
	return actions, nil
}

// ActionCount returns the total number of actions recorded for the
// current scene.
func (s *SceneStore) ActionCount(ctx context.Context) (int64, error) {
	scene, err := s.CurrentScene(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	err = s.db.WithContext(ctx).
		Model(&SceneAction{}).
		Where("scene_id = ?", scene.SceneID).
		Count(&count).Error
	return count, err
}

// recapMessage formats the /recap response body.
func recapMessage(scene Scene, actions []SceneAction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Recap — %s**\n", scene.Title)
	if len(actions) == 0 {
		b.WriteString("No actions yet.")
		return b.String()
	}
	for _, a := range actions {
		fmt.Fprintf(&b, "• <@%s>: %s\n", a.UserID, a.Action)
	}
	return strings.TrimRight(b.String(), "\n")
}
