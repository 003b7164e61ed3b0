// Package referral walks the upline forest. Commission runs work on a Graph
// snapshot; UI queries go through the Walker.
package referral

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"earnhub/internal/models"
)

// ErrCycle means an upline chain revisited a node. The chain is rejected
// rather than walked.
var ErrCycle = errors.New("referral: upline cycle detected")

// Ancestor is an upline tagged with its distance from the walked user.
type Ancestor struct {
	UserID    uint
	Level     int
	Qualified bool
	Blocked   bool
}

type node struct {
	id        uint
	upline    int // arena index, -1 for roots and dangling references
	qualified bool
	blocked   bool
}

// Graph is an arena of users indexed by id.
type Graph struct {
	nodes []node
	index map[uint]int
}

// NewGraph builds a graph from user rows. Upline references to ids that are
// not present terminate the chain.
func NewGraph(users []models.User) *Graph {
	g := &Graph{
		nodes: make([]node, len(users)),
		index: make(map[uint]int, len(users)),
	}
	for i, u := range users {
		g.index[u.ID] = i
		g.nodes[i] = node{id: u.ID, upline: -1, qualified: u.Qualified, blocked: u.Blocked}
	}
	for i, u := range users {
		if u.UplineID == nil {
			continue
		}
		if j, ok := g.index[*u.UplineID]; ok {
			g.nodes[i].upline = j
		}
	}
	return g
}

// LoadGraph snapshots the whole forest.
func LoadGraph(ctx context.Context, db *gorm.DB) (*Graph, error) {
	var rows []models.User
	err := db.WithContext(ctx).
		Select("id", "upline_id", "qualified", "blocked").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("referral: load graph: %w", err)
	}
	return NewGraph(rows), nil
}

func (g *Graph) Len() int { return len(g.nodes) }

// Uplines returns at most maxDepth ancestors of userID, nearest first.
func (g *Graph) Uplines(userID uint, maxDepth int) ([]Ancestor, error) {
	start, ok := g.index[userID]
	if !ok || maxDepth <= 0 {
		return nil, nil
	}
	visited := map[int]struct{}{start: {}}
	out := make([]Ancestor, 0, maxDepth)
	cur := g.nodes[start].upline
	for level := 1; level <= maxDepth && cur >= 0; level++ {
		if _, seen := visited[cur]; seen {
			return out, fmt.Errorf("%w at user %d", ErrCycle, g.nodes[cur].id)
		}
		visited[cur] = struct{}{}
		n := g.nodes[cur]
		out = append(out, Ancestor{UserID: n.id, Level: level, Qualified: n.qualified, Blocked: n.blocked})
		cur = n.upline
	}
	return out, nil
}

// Member returns the flags of userID with Level 0.
func (g *Graph) Member(userID uint) (Ancestor, bool) {
	i, ok := g.index[userID]
	if !ok {
		return Ancestor{UserID: userID}, false
	}
	n := g.nodes[i]
	return Ancestor{UserID: n.id, Qualified: n.qualified, Blocked: n.blocked}, true
}
