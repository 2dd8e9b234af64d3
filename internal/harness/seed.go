package harness

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/memberprop/internal/engine"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/session"
	"github.com/roach88/memberprop/internal/store"
)

// Seed writes a directory into the engine's store: users, then groups,
// hierarchies and conversations, then memberships applied through the
// engine as admin. Memberships accept disabled members. A user with
// admin's ID is skipped; admin must already exist.
//
// Background jobs queued by the membership batch are left on the worker.
func Seed(ctx context.Context, eng *engine.Engine, admin model.User, setup Setup) error {
	st := eng.Store()
	for _, u := range setup.Users {
		if u.ID == admin.ID {
			continue
		}
		if err := st.CreateUser(ctx, u.user()); err != nil {
			return fmt.Errorf("create user %s: %w", u.ID, err)
		}
	}
	for _, gs := range setup.Groups {
		g, err := gs.group()
		if err != nil {
			return err
		}
		if err := st.CreateGroup(ctx, g); err != nil {
			return fmt.Errorf("create group %s: %w", gs.ID, err)
		}
	}
	for _, hs := range setup.Hierarchies {
		if err := st.CreateHierarchy(ctx, hs.ID); err != nil {
			return fmt.Errorf("create hierarchy %s: %w", hs.ID, err)
		}
		err := eachMember(ctx, st, hs.Members, func(m model.Member, role model.Role) error {
			return st.AddHierarchyMember(ctx, hs.ID, m, role)
		})
		if err != nil {
			return fmt.Errorf("hierarchy %s: %w", hs.ID, err)
		}
	}
	for _, cs := range setup.Conversations {
		c := model.Conversation{ID: cs.ID, Name: cs.Name, Scoping: cs.Scoping, HierarchyID: cs.HierarchyID}
		if err := st.CreateConversation(ctx, c); err != nil {
			return fmt.Errorf("create conversation %s: %w", cs.ID, err)
		}
		err := eachMember(ctx, st, cs.Members, func(m model.Member, role model.Role) error {
			return st.AddConversationMember(ctx, cs.ID, m, role)
		})
		if err != nil {
			return fmt.Errorf("conversation %s: %w", cs.ID, err)
		}
	}

	if len(setup.Memberships) == 0 {
		return nil
	}
	opts := eng.DefaultOptions()
	opts.Sync = true
	if _, err := eng.ChangeMembers(session.WithActor(ctx, admin), engine.Batch(setup.Memberships), opts); err != nil {
		return fmt.Errorf("setup memberships: %w", err)
	}
	return nil
}

// eachMember resolves member IDs in sorted order.
func eachMember(ctx context.Context, st *store.Store, roles map[string]model.Role, fn func(model.Member, model.Role) error) error {
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m, err := st.Member(ctx, id)
		if err != nil {
			return fmt.Errorf("member %s: %w", id, err)
		}
		if err := fn(m, roles[id]); err != nil {
			return err
		}
	}
	return nil
}

func (u UserSpec) user() model.User {
	name := u.Name
	if name == "" {
		name = u.ID
	}
	return model.User{
		ID:       u.ID,
		Name:     name,
		RealmID:  u.RealmID,
		Enabled:  !u.Disabled,
		Outsider: u.Outsider,
		Admin:    u.Admin,
	}
}

func (g GroupSpec) group() (model.Group, error) {
	typ, err := model.ParseGroupType(g.Type)
	if err != nil {
		return model.Group{}, fmt.Errorf("group %s: %w", g.ID, err)
	}
	out := model.Group{
		ID:            g.ID,
		GroupID:       g.GroupID,
		Name:          g.Name,
		Type:          typ,
		Origin:        model.OriginType(g.Origin),
		OwnerID:       g.Owner,
		RealmExternal: g.RealmExternal,
		Enabled:       !g.Disabled,
	}
	if out.GroupID == "" {
		out.GroupID = g.ID
	}
	if out.Name == "" {
		out.Name = g.ID
	}
	if out.Origin == "" {
		out.Origin = model.OriginNative
	}
	return out, nil
}
