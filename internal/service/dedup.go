package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
)

type DuplicateGroup struct {
	Title    string        `json:"title"`
	Deadline time.Time     `json:"deadline"`
	Goals    []*model.Goal `json:"goals"`
}

// DedupService finds and removes goals that repeat an owner's title and deadline.
type DedupService struct {
	goals repository.GoalRepository
}

func NewDedupService(goals repository.GoalRepository) *DedupService {
	return &DedupService{goals: goals}
}

// FindDuplicates groups the owner's goals by trimmed title and deadline and
// returns the groups with more than one member. Members are ordered best first.
func (s *DedupService) FindDuplicates(ctx context.Context, ownerID string) ([]DuplicateGroup, error) {
	goals, err := s.goals.ByUser(ctx, ownerID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load goals: %w", err)
	}
	return groupDuplicates(goals), nil
}

// Cleanup keeps the best ranked goal of each duplicate group and deletes the rest.
func (s *DedupService) Cleanup(ctx context.Context, ownerID string) (int, error) {
	groups, err := s.FindDuplicates(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, group := range groups {
		keep := group.Goals[0]
		for _, goal := range group.Goals[1:] {
			if err := s.goals.Delete(ctx, goal.ID); err != nil {
				return deleted, fmt.Errorf("failed to delete duplicate goal %s: %w", goal.ID, err)
			}
			deleted++
			slog.Info("duplicate goal deleted", "goal_id", goal.ID, "kept_goal_id", keep.ID, "user_id", ownerID)
		}
	}
	return deleted, nil
}

type groupKey struct {
	title    string
	deadline int64
}

func groupDuplicates(goals []*model.Goal) []DuplicateGroup {
	index := map[groupKey]int{}
	var groups []DuplicateGroup

	for _, goal := range goals {
		key := groupKey{title: strings.TrimSpace(goal.Title), deadline: goal.Deadline.UnixMilli()}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, DuplicateGroup{Title: key.title, Deadline: goal.Deadline})
		}
		groups[i].Goals = append(groups[i].Goals, goal)
	}

	dups := []DuplicateGroup{}
	for _, g := range groups {
		if len(g.Goals) < 2 {
			continue
		}
		slices.SortStableFunc(g.Goals, func(a, b *model.Goal) int {
			return compareRank(rankOf(a), rankOf(b))
		})
		dups = append(dups, g)
	}
	return dups
}

// rankKey orders duplicates: a session handle beats active status, which
// beats completed setup, which beats recency.
type rankKey struct {
	hasSession    bool
	active        bool
	setupComplete bool
	createdAt     time.Time
}

func rankOf(g *model.Goal) rankKey {
	return rankKey{
		hasSession:    g.HasSession(),
		active:        g.Status == model.GoalStatusActive,
		setupComplete: g.PaymentSetupComplete,
		createdAt:     g.CreatedAt,
	}
}

// compareRank sorts the better key first.
func compareRank(a, b rankKey) int {
	if c := compareBool(a.hasSession, b.hasSession); c != 0 {
		return c
	}
	if c := compareBool(a.active, b.active); c != 0 {
		return c
	}
	if c := compareBool(a.setupComplete, b.setupComplete); c != 0 {
		return c
	}
	return b.createdAt.Compare(a.createdAt)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}
