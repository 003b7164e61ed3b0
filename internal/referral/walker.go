package referral

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"earnhub/internal/models"
)

// MaxTreeDepth caps the nested tree handed to presentation layers.
const MaxTreeDepth = 3

type TeamStats struct {
	UserID            uint `json:"user_id"`
	Direct            int  `json:"direct"`
	DirectActive      int  `json:"direct_active"`
	SecondLevel       int  `json:"second_level"`
	SecondLevelActive int  `json:"second_level_active"`
}

type TeamNode struct {
	UserID    uint        `json:"user_id"`
	Username  string      `json:"username"`
	Level     int         `json:"level"`
	Qualified bool        `json:"qualified"`
	Children  []*TeamNode `json:"children,omitempty"`
}

type Walker struct {
	db    *gorm.DB
	cache *redis.Client
	ttl   time.Duration
}

// NewWalker returns a walker; cache may be nil.
func NewWalker(db *gorm.DB, cache *redis.Client, ttl time.Duration) *Walker {
	return &Walker{db: db, cache: cache, ttl: ttl}
}

func teamStatsKey(userID uint) string {
	return fmt.Sprintf("team_stats:%d", userID)
}

// TeamStats counts direct and second level downlines; active means qualified.
func (w *Walker) TeamStats(ctx context.Context, userID uint) (*TeamStats, error) {
	if w.cache != nil {
		if raw, err := w.cache.Get(ctx, teamStatsKey(userID)).Bytes(); err == nil {
			var stats TeamStats
			if json.Unmarshal(raw, &stats) == nil {
				return &stats, nil
			}
		} else if err != redis.Nil {
			slog.Warn("team stats cache read failed", "user_id", userID, "error", err)
		}
	}

	db := w.db.WithContext(ctx)
	var direct []models.User
	if err := db.Select("id", "qualified").Where("upline_id = ? AND id <> ?", userID, userID).Find(&direct).Error; err != nil {
		return nil, fmt.Errorf("referral: direct team of %d: %w", userID, err)
	}
	stats := &TeamStats{UserID: userID, Direct: len(direct)}
	ids := make([]uint, 0, len(direct))
	for _, u := range direct {
		ids = append(ids, u.ID)
		if u.Qualified {
			stats.DirectActive++
		}
	}
	if len(ids) > 0 {
		var second []models.User
		err := db.Select("id", "qualified").
			Where("upline_id IN ? AND id <> ? AND id NOT IN ?", ids, userID, ids).
			Find(&second).Error
		if err != nil {
			return nil, fmt.Errorf("referral: second level team of %d: %w", userID, err)
		}
		stats.SecondLevel = len(second)
		for _, u := range second {
			if u.Qualified {
				stats.SecondLevelActive++
			}
		}
	}

	if w.cache != nil && w.ttl > 0 {
		if raw, err := json.Marshal(stats); err == nil {
			if err := w.cache.Set(ctx, teamStatsKey(userID), raw, w.ttl).Err(); err != nil {
				slog.Warn("team stats cache write failed", "user_id", userID, "error", err)
			}
		}
	}
	return stats, nil
}

// BuildTeamTree returns the downline of userID nested up to maxDepth levels.
// Deeper levels are omitted.
func (w *Walker) BuildTeamTree(ctx context.Context, userID uint, maxDepth int) (*TeamNode, error) {
	if maxDepth <= 0 || maxDepth > MaxTreeDepth {
		maxDepth = MaxTreeDepth
	}
	db := w.db.WithContext(ctx)
	var root models.User
	if err := db.Select("id", "username", "qualified").First(&root, userID).Error; err != nil {
		return nil, fmt.Errorf("referral: tree root %d: %w", userID, err)
	}
	rootNode := &TeamNode{UserID: root.ID, Username: root.Username, Qualified: root.Qualified}

	visited := map[uint]struct{}{root.ID: {}}
	frontier := map[uint]*TeamNode{root.ID: rootNode}
	for level := 1; level <= maxDepth && len(frontier) > 0; level++ {
		parents := make([]uint, 0, len(frontier))
		for id := range frontier {
			parents = append(parents, id)
		}
		var rows []models.User
		err := db.Select("id", "username", "qualified", "upline_id").
			Where("upline_id IN ?", parents).
			Order("id").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("referral: tree level %d of %d: %w", level, userID, err)
		}
		next := make(map[uint]*TeamNode, len(rows))
		for _, u := range rows {
			if _, seen := visited[u.ID]; seen {
				slog.Warn("referral cycle skipped in team tree", "root_id", userID, "user_id", u.ID)
				continue
			}
			visited[u.ID] = struct{}{}
			child := &TeamNode{UserID: u.ID, Username: u.Username, Level: level, Qualified: u.Qualified}
			parent := frontier[*u.UplineID]
			parent.Children = append(parent.Children, child)
			next[u.ID] = child
		}
		frontier = next
	}
	return rootNode, nil
}
