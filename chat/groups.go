package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"estatehub/database"
	"estatehub/models"
)

// CreateGroup creates a group with the caller as its first admin and the
// requested users as members.
func (e *Engine) CreateGroup(ctx context.Context, creatorID string, req models.CreateGroupRequest) (*models.Group, error) {
	if err := e.checkID("creatorId", creatorID); err != nil {
		return nil, err
	}
	if err := e.check(req); err != nil {
		return nil, err
	}

	ids := newIDSet()
	ids.add(creatorID)
	for _, id := range req.MemberIDs {
		ids.add(id)
	}

	users, err := e.store.UserSummaries(ctx, ids.list)
	if err != nil {
		return nil, err
	}
	g := &models.Group{
		ID:        newID(),
		Name:      req.Name,
		Image:     req.Image,
		CreatedBy: creatorID,
		CreatedAt: e.now(),
	}
	for i, id := range ids.list {
		if _, ok := users[id]; !ok {
			return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
		}
		role := models.GroupRoleMember
		if i == 0 {
			role = models.GroupRoleAdmin
		}
		g.Members = append(g.Members, models.GroupMember{UserID: id, Role: role})
	}

	if err := e.store.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("save group: %w", err)
	}
	e.logger.Info("group created", zap.String("group_id", g.ID), zap.Int("members", len(g.Members)))
	return g, nil
}

// AddMember adds a user to a group. Only group admins may add; adding a
// current member changes nothing.
func (e *Engine) AddMember(ctx context.Context, actorID, groupID string, req models.GroupMemberRequest) (*models.Group, error) {
	return e.mutateMembers(ctx, actorID, groupID, req, func(ctx context.Context, tx database.Store, g *models.Group) (bool, error) {
		if !g.IsAdmin(actorID) {
			return false, fmt.Errorf("only group admins can add members: %w", models.ErrForbidden)
		}
		if g.IsMember(req.UserID) {
			return false, nil
		}
		users, err := tx.UserSummaries(ctx, []string{req.UserID})
		if err != nil {
			return false, err
		}
		if _, ok := users[req.UserID]; !ok {
			return false, fmt.Errorf("user %s: %w", req.UserID, models.ErrNotFound)
		}
		g.Members = append(g.Members, models.GroupMember{UserID: req.UserID, Role: models.GroupRoleMember})
		return true, nil
	})
}

// RemoveMember removes a user from a group. Admins may remove anyone and
// members may remove themselves. The last admin cannot be removed.
func (e *Engine) RemoveMember(ctx context.Context, actorID, groupID string, req models.GroupMemberRequest) (*models.Group, error) {
	return e.mutateMembers(ctx, actorID, groupID, req, func(_ context.Context, _ database.Store, g *models.Group) (bool, error) {
		if actorID != req.UserID && !g.IsAdmin(actorID) {
			return false, fmt.Errorf("only group admins can remove members: %w", models.ErrForbidden)
		}
		if !g.IsMember(req.UserID) {
			return false, fmt.Errorf("user %s is not a member: %w", req.UserID, models.ErrNotFound)
		}
		if g.IsAdmin(req.UserID) && g.AdminCount() == 1 {
			return false, fmt.Errorf("cannot remove the last admin: %w", models.ErrConflict)
		}
		kept := g.Members[:0]
		for _, m := range g.Members {
			if m.UserID != req.UserID {
				kept = append(kept, m)
			}
		}
		g.Members = kept
		return true, nil
	})
}

// PromoteMember makes a current member a group admin
func (e *Engine) PromoteMember(ctx context.Context, actorID, groupID string, req models.GroupMemberRequest) (*models.Group, error) {
	return e.mutateMembers(ctx, actorID, groupID, req, func(_ context.Context, _ database.Store, g *models.Group) (bool, error) {
		if !g.IsAdmin(actorID) {
			return false, fmt.Errorf("only group admins can promote members: %w", models.ErrForbidden)
		}
		for i := range g.Members {
			if g.Members[i].UserID != req.UserID {
				continue
			}
			if g.Members[i].Role == models.GroupRoleAdmin {
				return false, nil
			}
			g.Members[i].Role = models.GroupRoleAdmin
			return true, nil
		}
		return false, fmt.Errorf("user %s is not a member: %w", req.UserID, models.ErrNotFound)
	})
}

// mutateMembers loads the group, applies fn and saves the member list in
// one transaction when fn reports a change.
func (e *Engine) mutateMembers(ctx context.Context, actorID, groupID string, req models.GroupMemberRequest,
	fn func(ctx context.Context, tx database.Store, g *models.Group) (bool, error)) (*models.Group, error) {
	if err := e.checkID("actorId", actorID); err != nil {
		return nil, err
	}
	if err := e.checkID("groupId", groupID); err != nil {
		return nil, err
	}
	if err := e.check(req); err != nil {
		return nil, err
	}

	var group *models.Group
	err := e.store.InTx(ctx, func(ctx context.Context, tx database.Store) error {
		g, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return fmt.Errorf("group %s: %w", groupID, err)
		}
		changed, err := fn(ctx, tx, g)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.SaveGroupMembers(ctx, g); err != nil {
				return err
			}
		}
		group = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}
