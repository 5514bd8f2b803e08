package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/studyhub-api/internal/models"
	"github.com/noah-isme/studyhub-api/internal/realtime"
	"github.com/noah-isme/studyhub-api/internal/repository"
)

// chatStore is an in-memory stand-in for the conversation tables. The typed
// views below expose it through the narrow repository interfaces.
type chatStore struct {
	mu            sync.Mutex
	now           time.Time
	conversations map[string]*models.Conversation
	tags          map[string][]models.Tag
	members       map[string]*models.ConversationMember
	joinRequests  map[string]*models.JoinRequest
	invitations   map[string]*models.GroupInvitation
	messages      map[int64]*models.Message
	users         map[string]*models.User
	trust         []models.TrustAdjustment
}

func newChatStore() *chatStore {
	return &chatStore{
		now:           time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		conversations: map[string]*models.Conversation{},
		tags:          map[string][]models.Tag{},
		members:       map[string]*models.ConversationMember{},
		joinRequests:  map[string]*models.JoinRequest{},
		invitations:   map[string]*models.GroupInvitation{},
		messages:      map[int64]*models.Message{},
		users:         map[string]*models.User{},
	}
}

func memberKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

func (s *chatStore) addUser(id, name string) {
	s.users[id] = &models.User{ID: id, FullName: name, Email: id + "@example.test"}
}

func (s *chatStore) addConversation(id string, visibility models.ConversationVisibility, requireApproval bool) *models.Conversation {
	conv := &models.Conversation{
		ID:              id,
		Name:            "Conversation " + id,
		Visibility:      visibility,
		Type:            models.ConversationTypeGroup,
		RequireApproval: requireApproval,
	}
	conv.RowVersion = 1
	conv.CreatedAt = s.now
	s.conversations[id] = conv
	return conv
}

func (s *chatStore) addMember(conversationID, userID string, role models.MemberRole) *models.ConversationMember {
	m := &models.ConversationMember{
		ID:             "m-" + conversationID + "-" + userID,
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       s.now,
	}
	s.members[memberKey(conversationID, userID)] = m
	return m
}

func (s *chatStore) storeMessage(msg *models.Message) {
	cp := *msg
	cp.RowVersion = 1
	cp.CreatedAt = s.now
	s.messages[cp.ID] = &cp
	if conv, ok := s.conversations[cp.ConversationID]; ok && cp.ReviewStatus == models.ReviewApproved {
		id := cp.ID
		conv.LastMessageID = &id
	}
}

func (s *chatStore) member(conversationID, userID string) *models.ConversationMember {
	return s.members[memberKey(conversationID, userID)]
}

// conversation repository view

type fakeConversations struct{ *chatStore }

func (f fakeConversations) Create(ctx context.Context, nc *models.NewConversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := nc.Conversation
	conv.RowVersion = 1
	conv.CreatedAt = f.now
	f.conversations[conv.ID] = &conv
	tags := make([]models.Tag, 0, len(nc.TagIDs)+len(nc.NewTags))
	for _, id := range nc.TagIDs {
		tags = append(tags, models.Tag{ID: id, Name: id, Slug: id})
	}
	tags = append(tags, nc.NewTags...)
	f.tags[conv.ID] = tags
	owner := f.addMember(conv.ID, *conv.CreatedBy, models.MemberRoleOwner)
	if nc.OwnerMemberID != "" {
		owner.ID = nc.OwnerMemberID
	}
	f.storeMessage(&nc.SystemMessage)
	return nil
}

func (f fakeConversations) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok || conv.IsDeleted {
		return nil, sql.ErrNoRows
	}
	cp := *conv
	return &cp, nil
}

func (f fakeConversations) GetListItem(ctx context.Context, id, viewerID string) (*models.ConversationListItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok || conv.IsDeleted {
		return nil, sql.ErrNoRows
	}
	return f.listItem(conv, viewerID), nil
}

func (f fakeConversations) listItem(conv *models.Conversation, viewerID string) *models.ConversationListItem {
	item := &models.ConversationListItem{Conversation: *conv}
	for _, m := range f.members {
		if m.ConversationID != conv.ID {
			continue
		}
		item.MemberCount++
		if m.UserID == viewerID {
			role := m.Role
			item.IsCurrentUserMember = true
			item.CurrentUserRole = &role
		}
	}
	return item
}

func (f fakeConversations) List(ctx context.Context, filter models.ConversationFilter) ([]models.ConversationListItem, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []models.ConversationListItem
	for _, conv := range f.conversations {
		if conv.IsDeleted {
			continue
		}
		item := f.listItem(conv, filter.ViewerID)
		if filter.MineOnly && !item.IsCurrentUserMember {
			continue
		}
		if conv.IsPrivate() && !item.IsCurrentUserMember {
			continue
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, len(items), nil
}

func (f fakeConversations) TagsFor(ctx context.Context, ids []string) (map[string][]models.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]models.Tag, len(ids))
	for _, id := range ids {
		if tags, ok := f.tags[id]; ok {
			out[id] = tags
		}
	}
	return out, nil
}

func (f fakeConversations) Update(ctx context.Context, upd models.ConversationUpdate) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[upd.ID]
	if !ok || conv.IsDeleted {
		return nil, sql.ErrNoRows
	}
	if conv.RowVersion != upd.ExpectedVersion {
		return nil, repository.ErrStaleVersion
	}
	conv.Name = upd.Name
	conv.Description = upd.Description
	conv.AvatarURL = upd.AvatarURL
	conv.Visibility = upd.Visibility
	conv.SubjectID = upd.SubjectID
	conv.RequireApproval = upd.RequireApproval
	conv.RowVersion++
	tags := make([]models.Tag, 0, len(upd.TagIDs)+len(upd.NewTags))
	for _, id := range upd.TagIDs {
		tags = append(tags, models.Tag{ID: id, Name: id, Slug: id})
	}
	f.tags[upd.ID] = append(tags, upd.NewTags...)
	cp := *conv
	return &cp, nil
}

func (f fakeConversations) SoftDelete(ctx context.Context, id, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok || conv.IsDeleted {
		return sql.ErrNoRows
	}
	conv.IsDeleted = true
	conv.DeletedBy = &actorID
	return nil
}

// member repository view

type fakeMembers struct{ *chatStore }

func (f fakeMembers) Find(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.member(conversationID, userID)
	if m == nil {
		return nil, sql.ErrNoRows
	}
	cp := *m
	return &cp, nil
}

func (f fakeMembers) List(ctx context.Context, conversationID string) ([]models.MemberView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MemberView
	for _, m := range f.members {
		if m.ConversationID != conversationID {
			continue
		}
		view := models.MemberView{ConversationMember: *m}
		if u, ok := f.users[m.UserID]; ok {
			view.FullName = u.FullName
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f fakeMembers) ListUserIDs(ctx context.Context, conversationID string) ([]string, error) {
	return f.ids(conversationID, func(models.MemberRole) bool { return true }), nil
}

func (f fakeMembers) ListModeratorIDs(ctx context.Context, conversationID string) ([]string, error) {
	return f.ids(conversationID, models.MemberRole.CanModerate), nil
}

func (f fakeMembers) ListUnmutedUserIDs(ctx context.Context, conversationID, exceptID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.members {
		if m.ConversationID == conversationID && !m.IsMuted && m.UserID != exceptID {
			out = append(out, m.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f fakeMembers) ids(conversationID string, keep func(models.MemberRole) bool) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.members {
		if m.ConversationID == conversationID && keep(m.Role) {
			out = append(out, m.UserID)
		}
	}
	sort.Strings(out)
	return out
}

func (f fakeMembers) AddWithMessage(ctx context.Context, nm models.NewMembership, msg *models.Message) (*models.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.member(nm.ConversationID, nm.UserID) != nil {
		return nil, repository.ErrDuplicate
	}
	m := f.addMember(nm.ConversationID, nm.UserID, nm.Role)
	m.ID = nm.ID
	m.InvitedBy = nm.InvitedBy
	if msg != nil {
		f.storeMessage(msg)
	}
	cp := *m
	return &cp, nil
}

func (f fakeMembers) RemoveWithMessage(ctx context.Context, conversationID, userID, actorID string, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.member(conversationID, userID) == nil {
		return sql.ErrNoRows
	}
	delete(f.members, memberKey(conversationID, userID))
	if msg != nil {
		f.storeMessage(msg)
	}
	return nil
}

func (f fakeMembers) ChangeRole(ctx context.Context, conversationID, userID string, role models.MemberRole, actorID string, msg *models.Message) (*models.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := f.member(conversationID, userID)
	if target == nil {
		return nil, sql.ErrNoRows
	}
	if role == models.MemberRoleOwner {
		if prev := f.member(conversationID, actorID); prev != nil {
			prev.Role = models.MemberRoleDeputy
		}
	}
	target.Role = role
	if msg != nil {
		f.storeMessage(msg)
	}
	cp := *target
	return &cp, nil
}

func (f fakeMembers) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.member(conversationID, userID)
	if m == nil {
		return sql.ErrNoRows
	}
	m.IsMuted = muted
	return nil
}

func (f fakeMembers) MarkRead(ctx context.Context, conversationID, userID string, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.member(conversationID, userID)
	if m == nil {
		return sql.ErrNoRows
	}
	if m.LastReadMessageID == nil || *m.LastReadMessageID < messageID {
		m.LastReadMessageID = &messageID
	}
	return nil
}

// join request repository view

type fakeJoinRequests struct{ *chatStore }

func (f fakeJoinRequests) Create(ctx context.Context, req *models.JoinRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.joinRequests {
		if existing.ConversationID == req.ConversationID && existing.UserID == req.UserID && existing.Status == models.JoinRequestPending {
			return repository.ErrDuplicate
		}
	}
	req.Status = models.JoinRequestPending
	req.CreatedAt = f.now
	cp := *req
	f.joinRequests[req.ID] = &cp
	return nil
}

func (f fakeJoinRequests) HasPending(ctx context.Context, conversationID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.joinRequests {
		if r.ConversationID == conversationID && r.UserID == userID && r.Status == models.JoinRequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeJoinRequests) FindByID(ctx context.Context, id string) (*models.JoinRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.joinRequests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (f fakeJoinRequests) List(ctx context.Context, filter models.JoinRequestFilter) ([]models.JoinRequestView, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.JoinRequestView
	for _, r := range f.joinRequests {
		if filter.ConversationID != "" && r.ConversationID != filter.ConversationID {
			continue
		}
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		out = append(out, models.JoinRequestView{JoinRequest: *r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f fakeJoinRequests) Decide(ctx context.Context, d models.JoinRequestDecision) (*models.JoinRequest, *models.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.joinRequests[d.RequestID]
	if !ok {
		return nil, nil, sql.ErrNoRows
	}
	if r.Status != models.JoinRequestPending {
		return nil, nil, repository.ErrInvalidState
	}
	now := f.now
	r.ReviewedBy = &d.ReviewerID
	r.ReviewedAt = &now
	r.ReviewNote = d.Note
	if !d.Approve {
		r.Status = models.JoinRequestRejected
		cp := *r
		return &cp, nil, nil
	}
	r.Status = models.JoinRequestApproved
	if f.member(r.ConversationID, r.UserID) != nil {
		cp := *r
		return &cp, nil, nil
	}
	m := f.addMember(r.ConversationID, r.UserID, models.MemberRoleMember)
	m.ID = d.MemberID
	if d.SystemMessage != nil {
		f.storeMessage(d.SystemMessage)
	}
	cp, mcp := *r, *m
	return &cp, &mcp, nil
}

func (f fakeJoinRequests) Cancel(ctx context.Context, id, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.joinRequests[id]
	if !ok || r.UserID != userID {
		return sql.ErrNoRows
	}
	if r.Status != models.JoinRequestPending {
		return repository.ErrInvalidState
	}
	r.Status = models.JoinRequestCancelled
	return nil
}

// invitation repository view

type fakeInvitations struct{ *chatStore }

func (f fakeInvitations) Create(ctx context.Context, inv *models.GroupInvitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.invitations {
		if existing.ConversationID != inv.ConversationID || existing.InviteeID != inv.InviteeID || existing.Status != models.InvitationPending {
			continue
		}
		if !existing.ExpiresAt.After(f.now) {
			existing.Status = models.InvitationExpired
			continue
		}
		return repository.ErrDuplicate
	}
	inv.Status = models.InvitationPending
	inv.CreatedAt = f.now
	cp := *inv
	f.invitations[inv.ID] = &cp
	return nil
}

func (f fakeInvitations) FindByID(ctx context.Context, id string) (*models.GroupInvitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *inv
	return &cp, nil
}

func (f fakeInvitations) HasLivePending(ctx context.Context, conversationID, inviteeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.ConversationID == conversationID && inv.InviteeID == inviteeID && inv.EffectiveStatus(f.now) == models.InvitationPending {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeInvitations) PendingInviteeIDs(ctx context.Context, conversationID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, inv := range f.invitations {
		if inv.ConversationID == conversationID && inv.EffectiveStatus(f.now) == models.InvitationPending {
			out = append(out, inv.InviteeID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f fakeInvitations) List(ctx context.Context, filter models.InvitationFilter) ([]models.InvitationView, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.InvitationView
	for _, inv := range f.invitations {
		if filter.ConversationID != "" && inv.ConversationID != filter.ConversationID {
			continue
		}
		if filter.InviteeID != "" && inv.InviteeID != filter.InviteeID {
			continue
		}
		out = append(out, models.InvitationView{GroupInvitation: *inv})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f fakeInvitations) Respond(ctx context.Context, resp models.InvitationResponse) (*models.GroupInvitation, *models.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[resp.InvitationID]
	if !ok {
		return nil, nil, sql.ErrNoRows
	}
	switch inv.EffectiveStatus(f.now) {
	case models.InvitationPending:
	case models.InvitationExpired:
		return nil, nil, repository.ErrExpired
	default:
		return nil, nil, repository.ErrInvalidState
	}
	now := f.now
	inv.RespondedAt = &now
	if !resp.Accept {
		inv.Status = models.InvitationDeclined
		cp := *inv
		return &cp, nil, nil
	}
	if f.member(inv.ConversationID, inv.InviteeID) != nil {
		return nil, nil, repository.ErrDuplicate
	}
	inv.Status = models.InvitationAccepted
	for _, r := range f.joinRequests {
		if r.ConversationID == inv.ConversationID && r.UserID == inv.InviteeID && r.Status == models.JoinRequestPending {
			r.Status = models.JoinRequestCancelled
		}
	}
	m := f.addMember(inv.ConversationID, inv.InviteeID, models.MemberRoleMember)
	m.ID = resp.MemberID
	m.InvitedBy = &inv.InviterID
	if resp.SystemMessage != nil {
		f.storeMessage(resp.SystemMessage)
	}
	cp, mcp := *inv, *m
	return &cp, &mcp, nil
}

func (f fakeInvitations) Cancel(ctx context.Context, id, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[id]
	if !ok {
		return sql.ErrNoRows
	}
	if inv.EffectiveStatus(f.now) != models.InvitationPending {
		return repository.ErrInvalidState
	}
	inv.Status = models.InvitationCancelled
	return nil
}

// message repository view

type fakeMessages struct{ *chatStore }

func (f fakeMessages) Create(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeMessage(msg)
	return nil
}

func (f fakeMessages) FindByID(ctx context.Context, id int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok || msg.IsDeleted {
		return nil, sql.ErrNoRows
	}
	cp := *msg
	return &cp, nil
}

func (f fakeMessages) GetView(ctx context.Context, id int64) (*models.MessageView, error) {
	msg, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.viewOf(msg), nil
}

func (f fakeMessages) viewOf(msg *models.Message) *models.MessageView {
	view := &models.MessageView{Message: *msg}
	if msg.SenderID != nil {
		if u, ok := f.users[*msg.SenderID]; ok {
			name := u.FullName
			view.SenderName = &name
		}
	}
	return view
}

func (f fakeMessages) List(ctx context.Context, q models.MessageQuery) ([]models.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MessageView
	for _, msg := range f.messages {
		if msg.ConversationID != q.ConversationID || msg.IsDeleted {
			continue
		}
		if q.Before != nil && msg.ID >= *q.Before {
			continue
		}
		if q.PinnedOnly && !msg.IsPinned {
			continue
		}
		if msg.ReviewStatus != models.ReviewApproved && !q.IncludeHidden && !msg.IsAuthor(q.ViewerID) {
			continue
		}
		out = append(out, *f.viewOf(msg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f fakeMessages) Previews(ctx context.Context, ids []int64) (map[int64]models.MessagePreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]models.MessagePreview, len(ids))
	for _, id := range ids {
		msg, ok := f.messages[id]
		if !ok {
			continue
		}
		p := models.MessagePreview{ID: id, SenderID: msg.SenderID, SystemType: msg.SystemType, IsDeleted: msg.IsDeleted, CreatedAt: msg.CreatedAt}
		if !msg.IsDeleted {
			p.Content = msg.Content
		}
		out[id] = p
	}
	return out, nil
}

func (f fakeMessages) UpdateContent(ctx context.Context, edit models.MessageEdit) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[edit.MessageID]
	if !ok || msg.IsDeleted {
		return nil, sql.ErrNoRows
	}
	if msg.RowVersion != edit.ExpectedVersion {
		return nil, repository.ErrStaleVersion
	}
	now := f.now
	msg.Content = edit.Content
	msg.IsEdited = true
	msg.EditedAt = &now
	msg.RowVersion++
	cp := *msg
	return &cp, nil
}

func (f fakeMessages) SoftDelete(ctx context.Context, target *models.Message, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[target.ID]
	if !ok || msg.IsDeleted {
		return sql.ErrNoRows
	}
	msg.IsDeleted = true
	msg.DeletedBy = &actorID
	return nil
}

func (f fakeMessages) SetPinned(ctx context.Context, id int64, pinned bool, actorID string, notice *models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok || msg.IsDeleted {
		return nil, sql.ErrNoRows
	}
	if msg.IsPinned == pinned {
		return nil, repository.ErrInvalidState
	}
	msg.IsPinned = pinned
	if pinned {
		now := f.now
		msg.PinnedAt = &now
		msg.PinnedBy = &actorID
	} else {
		msg.PinnedAt = nil
		msg.PinnedBy = nil
	}
	if notice != nil {
		f.storeMessage(notice)
	}
	cp := *msg
	return &cp, nil
}

func (f fakeMessages) Review(ctx context.Context, id int64, status models.ReviewStatus, reviewerID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok || msg.IsDeleted {
		return nil, sql.ErrNoRows
	}
	if msg.ReviewStatus != models.ReviewPending {
		return nil, repository.ErrInvalidState
	}
	now := f.now
	msg.ReviewStatus = status
	msg.ReviewedBy = &reviewerID
	msg.ReviewedAt = &now
	cp := *msg
	return &cp, nil
}

func (f fakeMessages) CountUnread(ctx context.Context, conversationID, userID string, lastRead *int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, msg := range f.messages {
		if msg.ConversationID != conversationID || msg.IsDeleted || msg.ReviewStatus != models.ReviewApproved {
			continue
		}
		if lastRead != nil && msg.ID <= *lastRead {
			continue
		}
		count++
	}
	return count, nil
}

// user and trust views

type fakeUsers struct{ *chatStore }

func (f fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) AdjustTrust(ctx context.Context, adj models.TrustAdjustment) (*models.UserTrustHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trust = append(f.trust, adj)
	if u, ok := f.users[adj.UserID]; ok {
		u.TrustScore += adj.Delta
	}
	return &models.UserTrustHistory{UserID: adj.UserID, Delta: adj.Delta, Reason: adj.Reason}, nil
}

func (f fakeUsers) ListSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.UserSummary, len(ids))
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = models.UserSummary{ID: u.ID, FullName: u.FullName, TrustLevel: u.TrustLevel}
		}
	}
	return out, nil
}

type fakeSubjects map[string]bool

func (f fakeSubjects) SubjectExists(ctx context.Context, id string) (bool, error) {
	return f[id], nil
}

// busStub records published events.
type busStub struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *busStub) Publish(ctx context.Context, ev realtime.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *busStub) ofType(t realtime.EventType) []realtime.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []realtime.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// idStub hands out increasing identifiers.
type idStub struct {
	mu   sync.Mutex
	next int64
}

func (g *idStub) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return 1000 + g.next
}

type sentNotification struct {
	recipients []string
	template   models.Notification
}

// notifierStub records notifications instead of storing them.
type notifierStub struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *notifierStub) Notify(ctx context.Context, recipients []string, template models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{recipients: append([]string{}, recipients...), template: template})
	return nil
}

func (n *notifierStub) ofType(t models.NotificationType) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.template.Type == t {
			out = append(out, s)
		}
	}
	return out
}
