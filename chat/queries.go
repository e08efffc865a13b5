package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"estatehub/models"
)

// UnseenCount groups a user's unseen messages by sender, group and
// property, each in order of first unseen message.
func (e *Engine) UnseenCount(ctx context.Context, userID string) (*models.UnseenCounts, error) {
	if err := e.checkID("userId", userID); err != nil {
		return nil, err
	}

	groups, err := e.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	groupIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}

	msgs, err := e.store.ListUnseenMessages(ctx, userID, groupIDs)
	if err != nil {
		return nil, err
	}

	out := &models.UnseenCounts{
		Direct:     []models.SenderUnseen{},
		Groups:     []models.GroupUnseen{},
		Properties: []models.PropertyUnseen{},
	}
	direct := map[string]int{}
	group := map[string]int{}
	property := map[string]int{}
	senders := newIDSet()
	props := newIDSet()

	for _, m := range msgs {
		switch {
		case m.GroupID != "":
			i, ok := group[m.GroupID]
			if !ok {
				i = len(out.Groups)
				group[m.GroupID] = i
				out.Groups = append(out.Groups, models.GroupUnseen{GroupID: m.GroupID})
			}
			out.Groups[i].Count++
		case m.PropertyID != "" && m.ReceiverID == userID:
			i, ok := property[m.PropertyID]
			if !ok {
				i = len(out.Properties)
				property[m.PropertyID] = i
				out.Properties = append(out.Properties, models.PropertyUnseen{PropertyID: m.PropertyID})
				props.add(m.PropertyID)
			}
			out.Properties[i].Count++
		case m.ReceiverID == userID:
			i, ok := direct[m.SenderID]
			if !ok {
				i = len(out.Direct)
				direct[m.SenderID] = i
				out.Direct = append(out.Direct, models.SenderUnseen{SenderID: m.SenderID})
				senders.add(m.SenderID)
			}
			out.Direct[i].Count++
		}
	}

	users, err := e.store.UserSummaries(ctx, senders.list)
	if err != nil {
		return nil, err
	}
	for i := range out.Direct {
		if u, ok := users[out.Direct[i].SenderID]; ok {
			out.Direct[i].Sender = &u
		}
	}
	summaries, err := e.store.PropertySummaries(ctx, props.list)
	if err != nil {
		return nil, err
	}
	for i := range out.Properties {
		if p, ok := summaries[out.Properties[i].PropertyID]; ok {
			out.Properties[i].Property = &p
		}
	}
	return out, nil
}

// ChatPartners lists the caller's threads keyed by counterpart and
// property, plus per-listing aggregates for inquiries the caller received.
// Both are ordered most recent first.
func (e *Engine) ChatPartners(ctx context.Context, userID string) (*models.ChatPartners, error) {
	if err := e.checkID("userId", userID); err != nil {
		return nil, err
	}

	msgs, err := e.store.ListConversationMessages(ctx, userID)
	if err != nil {
		return nil, err
	}

	type thread struct {
		partnerID  string
		propertyID string
		last       models.Message
		lastIndex  int
		unseen     int
	}
	var threads []*thread
	byKey := map[string]*thread{}
	var listings []*thread
	byListing := map[string]*thread{}
	userIDs := newIDSet()
	propIDs := newIDSet()

	for i, m := range msgs {
		unseen := m.ReceiverID == userID && !m.IsSeen
		partnerID := m.CounterpartOf(userID)

		key := partnerID + "|" + m.PropertyID
		t, ok := byKey[key]
		if !ok {
			t = &thread{partnerID: partnerID, propertyID: m.PropertyID}
			byKey[key] = t
			threads = append(threads, t)
			userIDs.add(partnerID)
			propIDs.add(m.PropertyID)
		}
		t.last, t.lastIndex = m, i
		if unseen {
			t.unseen++
		}

		if m.PropertyID != "" && m.ReceiverID == userID {
			l, ok := byListing[m.PropertyID]
			if !ok {
				l = &thread{propertyID: m.PropertyID}
				byListing[m.PropertyID] = l
				listings = append(listings, l)
			}
			l.last, l.lastIndex = m, i
			if unseen {
				l.unseen++
			}
		}
	}

	byRecency := func(ts []*thread) {
		sort.SliceStable(ts, func(i, j int) bool { return ts[i].lastIndex > ts[j].lastIndex })
	}
	byRecency(threads)
	byRecency(listings)

	users, err := e.store.UserSummaries(ctx, userIDs.list)
	if err != nil {
		return nil, err
	}
	props, err := e.store.PropertySummaries(ctx, propIDs.list)
	if err != nil {
		return nil, err
	}

	out := &models.ChatPartners{
		Partners:   make([]models.ChatPartner, 0, len(threads)),
		Properties: make([]models.PropertyThread, 0, len(listings)),
	}
	for _, t := range threads {
		partner, ok := users[t.partnerID]
		if !ok {
			partner = models.UserSummary{ID: t.partnerID}
		}
		t.last.SoftDelete = nil
		p := models.ChatPartner{
			Partner:       partner,
			LastMessage:   t.last,
			LastMessageAt: t.last.Timestamp,
			UnseenCount:   t.unseen,
		}
		if s, ok := props[t.propertyID]; ok {
			p.Property = &s
		}
		out.Partners = append(out.Partners, p)
	}
	for _, l := range listings {
		summary, ok := props[l.propertyID]
		if !ok {
			summary = models.PropertySummary{ID: l.propertyID}
		}
		l.last.SoftDelete = nil
		out.Properties = append(out.Properties, models.PropertyThread{
			Property:      summary,
			LastMessage:   l.last,
			LastMessageAt: l.last.Timestamp,
			UnseenCount:   l.unseen,
		})
	}
	return out, nil
}

// GroupMessages returns a group's messages, oldest first. Callers who are
// not current members, including callers naming a group that does not
// exist, get an empty result.
func (e *Engine) GroupMessages(ctx context.Context, userID, groupID string) ([]models.MessageView, error) {
	if err := e.checkID("userId", userID); err != nil {
		return nil, err
	}
	if err := e.checkID("groupId", groupID); err != nil {
		return nil, err
	}

	g, err := e.store.GetGroup(ctx, groupID)
	if errors.Is(err, models.ErrNotFound) {
		return []models.MessageView{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !g.IsMember(userID) {
		return []models.MessageView{}, nil
	}

	msgs, err := e.store.ListGroupMessages(ctx, []string{groupID}, userID)
	if err != nil {
		return nil, err
	}
	return e.expand(ctx, msgs)
}

// GetMessage returns one message as userID sees it. Messages the caller is
// not party to, or has hidden, are reported as not found.
func (e *Engine) GetMessage(ctx context.Context, userID, messageID string) (*models.MessageView, error) {
	if err := e.checkID("userId", userID); err != nil {
		return nil, err
	}
	if err := e.checkID("messageId", messageID); err != nil {
		return nil, err
	}

	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	notFound := fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	if m.HiddenFor(userID) {
		return nil, notFound
	}
	if m.GroupID != "" {
		g, err := e.store.GetGroup(ctx, m.GroupID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, notFound
		}
		if err != nil {
			return nil, err
		}
		if !g.IsMember(userID) {
			return nil, notFound
		}
	} else if m.SenderID != userID && m.ReceiverID != userID {
		return nil, notFound
	}
	return e.expandOne(ctx, *m)
}

// AllGroupMessages returns messages from every group the user belongs to,
// most recent first.
func (e *Engine) AllGroupMessages(ctx context.Context, userID string) ([]models.MessageView, error) {
	if err := e.checkID("userId", userID); err != nil {
		return nil, err
	}

	groups, err := e.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}

	msgs, err := e.store.ListGroupMessages(ctx, ids, userID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return e.expand(ctx, msgs)
}

// ListGroupsForAdmin returns every group with its latest message, newest
// group first. Anyone but a global admin gets an empty list.
func (e *Engine) ListGroupsForAdmin(ctx context.Context, userID string) ([]models.GroupWithLastMessage, error) {
	if err := e.checkID("userId", userID); err != nil {
		return nil, err
	}

	u, err := e.store.GetUser(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return []models.GroupWithLastMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin {
		return []models.GroupWithLastMessage{}, nil
	}

	groups, err := e.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.GroupWithLastMessage, 0, len(groups))
	var latest []models.Message
	var owners []int
	for _, g := range groups {
		out = append(out, models.GroupWithLastMessage{Group: *g})
		m, err := e.store.LatestGroupMessage(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("latest message of %s: %w", g.ID, err)
		}
		if m != nil {
			latest = append(latest, *m)
			owners = append(owners, len(out)-1)
		}
	}

	views, err := e.expand(ctx, latest)
	if err != nil {
		return nil, err
	}
	for i := range views {
		out[owners[i]].LastMessage = &views[i]
	}
	return out, nil
}
