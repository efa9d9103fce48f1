// internal/store/memory.go
package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lobbyhub/internal/models"
)

type memberKey struct{ lobby, user uuid.UUID }
type pairKey struct{ a, b uuid.UUID }

type rateEvent struct {
	userID uuid.UUID
	key    string
	at     time.Time
}

type participantKey struct{ conv, user uuid.UUID }

// memState is the full data set. Transactions work on a clone and swap it in on commit.
type memState struct {
	users          map[uuid.UUID]models.User
	lobbies        map[uuid.UUID]models.Lobby
	members        map[memberKey]models.LobbyMember
	joinRequests   map[uuid.UUID]models.JoinRequest
	conversations  map[uuid.UUID]models.Conversation
	participants   map[participantKey]time.Time
	messages       []models.Message
	friendships    map[pairKey]models.Friendship
	friendRequests map[uuid.UUID]models.FriendRequest
	blocks         map[pairKey]models.Block
	xpEvents       []models.XpEvent
	rateEvents     []rateEvent
}

func newMemState() *memState {
	return &memState{
		users:          make(map[uuid.UUID]models.User),
		lobbies:        make(map[uuid.UUID]models.Lobby),
		members:        make(map[memberKey]models.LobbyMember),
		joinRequests:   make(map[uuid.UUID]models.JoinRequest),
		conversations:  make(map[uuid.UUID]models.Conversation),
		participants:   make(map[participantKey]time.Time),
		friendships:    make(map[pairKey]models.Friendship),
		friendRequests: make(map[uuid.UUID]models.FriendRequest),
		blocks:         make(map[pairKey]models.Block),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		users:          maps.Clone(s.users),
		lobbies:        maps.Clone(s.lobbies),
		members:        maps.Clone(s.members),
		joinRequests:   maps.Clone(s.joinRequests),
		conversations:  maps.Clone(s.conversations),
		participants:   maps.Clone(s.participants),
		messages:       append([]models.Message(nil), s.messages...),
		friendships:    maps.Clone(s.friendships),
		friendRequests: maps.Clone(s.friendRequests),
		blocks:         maps.Clone(s.blocks),
		xpEvents:       append([]models.XpEvent(nil), s.xpEvents...),
		rateEvents:     append([]rateEvent(nil), s.rateEvents...),
	}
}

// MemoryStore keeps everything in process. Transactions are serialized by a single
// mutex, which also stands in for row locks.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// InTx runs fn against a private copy of the data and commits it only if fn succeeds.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// PutUser seeds or replaces a user row. Users are owned by the account subsystem,
// so this exists for dev mode and tests.
func (s *MemoryStore) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

// XpEvents returns a copy of the ledger for userID.
func (s *MemoryStore) XpEvents(userID uuid.UUID) []models.XpEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.XpEvent
	for _, e := range s.state.xpEvents {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// JoinRequestsForLobby returns a copy of every request for lobbyID, oldest first.
func (s *MemoryStore) JoinRequestsForLobby(lobbyID uuid.UUID) []models.JoinRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.JoinRequest
	for _, r := range s.state.joinRequests {
		if r.LobbyID == lobbyID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// FriendshipCount returns the number of friendship rows.
func (s *MemoryStore) FriendshipCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.friendships)
}

type memTx struct {
	st *memState
}

func (t *memTx) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memTx) LockUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return t.GetUser(ctx, id)
}

func (t *memTx) UpdateUserXP(_ context.Context, id uuid.UUID, total, level int) error {
	u, ok := t.st.users[id]
	if !ok {
		return ErrNotFound
	}
	u.XPTotal, u.SRLevel = total, level
	t.st.users[id] = u
	return nil
}

func (t *memTx) InsertLobby(_ context.Context, l *models.Lobby) error {
	if _, ok := t.st.lobbies[l.ID]; ok {
		return ErrDuplicate
	}
	t.st.lobbies[l.ID] = *l
	return nil
}

func (t *memTx) GetLobby(_ context.Context, id uuid.UUID) (*models.Lobby, error) {
	l, ok := t.st.lobbies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (t *memTx) LockLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	return t.GetLobby(ctx, id)
}

func (t *memTx) UpdateLobby(_ context.Context, l *models.Lobby) error {
	if _, ok := t.st.lobbies[l.ID]; !ok {
		return ErrNotFound
	}
	t.st.lobbies[l.ID] = *l
	return nil
}

func (t *memTx) ActiveHostedLobby(_ context.Context, hostID uuid.UUID, now time.Time) (*models.Lobby, error) {
	var found *models.Lobby
	for _, l := range t.st.lobbies {
		if l.HostUserID == hostID && l.Open(now) {
			if found == nil || l.CreatedAt.After(found.CreatedAt) {
				l := l
				found = &l
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (t *memTx) ActiveMembership(_ context.Context, userID uuid.UUID, now time.Time) (*models.Lobby, error) {
	var found *models.Lobby
	var joined time.Time
	for k, m := range t.st.members {
		if k.user != userID {
			continue
		}
		l, ok := t.st.lobbies[k.lobby]
		if !ok || !l.Open(now) {
			continue
		}
		if found == nil || m.JoinedAt.After(joined) {
			found, joined = &l, m.JoinedAt
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (t *memTx) ExpiredLobbies(_ context.Context, now time.Time) ([]models.Lobby, error) {
	var out []models.Lobby
	for _, l := range t.st.lobbies {
		if l.IsActive && l.Expired(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (t *memTx) GetMember(_ context.Context, lobbyID, userID uuid.UUID) (*models.LobbyMember, error) {
	m, ok := t.st.members[memberKey{lobbyID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (t *memTx) InsertMember(_ context.Context, m *models.LobbyMember) error {
	k := memberKey{m.LobbyID, m.UserID}
	if _, ok := t.st.members[k]; !ok {
		t.st.members[k] = *m
	}
	return nil
}

func (t *memTx) DeleteMember(_ context.Context, lobbyID, userID uuid.UUID) (bool, error) {
	k := memberKey{lobbyID, userID}
	if _, ok := t.st.members[k]; !ok {
		return false, nil
	}
	delete(t.st.members, k)
	return true, nil
}

func (t *memTx) ListMembers(_ context.Context, lobbyID uuid.UUID) ([]models.LobbyMember, error) {
	var out []models.LobbyMember
	for k, m := range t.st.members {
		if k.lobby == lobbyID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (t *memTx) InsertJoinRequest(_ context.Context, r *models.JoinRequest) error {
	for _, existing := range t.st.joinRequests {
		if existing.LobbyID == r.LobbyID && existing.RequesterUserID == r.RequesterUserID &&
			existing.Status != models.StatusDeclined {
			return ErrDuplicate
		}
	}
	t.st.joinRequests[r.ID] = *r
	return nil
}

func (t *memTx) GetJoinRequest(_ context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	r, ok := t.st.joinRequests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memTx) LockJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	return t.GetJoinRequest(ctx, id)
}

func (t *memTx) UpdateJoinRequest(_ context.Context, r *models.JoinRequest) error {
	if _, ok := t.st.joinRequests[r.ID]; !ok {
		return ErrNotFound
	}
	t.st.joinRequests[r.ID] = *r
	return nil
}

func (t *memTx) OpenJoinRequest(_ context.Context, lobbyID, requesterID uuid.UUID) (*models.JoinRequest, error) {
	for _, r := range t.st.joinRequests {
		if r.LobbyID == lobbyID && r.RequesterUserID == requesterID && r.Status != models.StatusDeclined {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CountPendingJoinRequests(_ context.Context, lobbyID uuid.UUID) (int, error) {
	n := 0
	for _, r := range t.st.joinRequests {
		if r.LobbyID == lobbyID && r.Status == models.StatusPending {
			n++
		}
	}
	return n, nil
}

func (t *memTx) declineWhere(match func(models.JoinRequest) bool, at time.Time) []models.JoinRequest {
	var changed []models.JoinRequest
	for id, r := range t.st.joinRequests {
		if !match(r) {
			continue
		}
		r.Status = models.StatusDeclined
		r.DecidedAt = &at
		r.DecidedByUserID = nil
		t.st.joinRequests[id] = r
		changed = append(changed, r)
	}
	return changed
}

func (t *memTx) DeclinePendingForLobby(_ context.Context, lobbyID uuid.UUID, at time.Time) (int, error) {
	changed := t.declineWhere(func(r models.JoinRequest) bool {
		return r.LobbyID == lobbyID && r.Status == models.StatusPending
	}, at)
	return len(changed), nil
}

func (t *memTx) DeclineAccepted(_ context.Context, lobbyID, userID uuid.UUID, at time.Time) (int, error) {
	changed := t.declineWhere(func(r models.JoinRequest) bool {
		return r.LobbyID == lobbyID && r.RequesterUserID == userID && r.Status == models.StatusAccepted
	}, at)
	return len(changed), nil
}

func (t *memTx) DeclinePendingByRequester(_ context.Context, userID uuid.UUID, at time.Time) ([]models.JoinRequest, error) {
	return t.declineWhere(func(r models.JoinRequest) bool {
		return r.RequesterUserID == userID && r.Status == models.StatusPending
	}, at), nil
}

func (t *memTx) EnsureLobbyConversation(_ context.Context, lobbyID uuid.UUID, at time.Time) (*models.Conversation, error) {
	for _, c := range t.st.conversations {
		if c.Type == models.ConversationLobby && c.LobbyID != nil && *c.LobbyID == lobbyID {
			return &c, nil
		}
	}
	id := lobbyID
	c := models.Conversation{ID: uuid.New(), Type: models.ConversationLobby, LobbyID: &id, CreatedAt: at}
	t.st.conversations[c.ID] = c
	return &c, nil
}

func (t *memTx) GetConversation(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	c, ok := t.st.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// PutConversation seeds a conversation, for DM threads created elsewhere.
func (s *MemoryStore) PutConversation(c models.Conversation, participants ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.conversations[c.ID] = c
	for _, p := range participants {
		s.state.participants[participantKey{c.ID, p}] = c.CreatedAt
	}
}

func (t *memTx) AddParticipant(_ context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	k := participantKey{conversationID, userID}
	if _, ok := t.st.participants[k]; !ok {
		t.st.participants[k] = at
	}
	return nil
}

func (t *memTx) RemoveParticipant(_ context.Context, conversationID, userID uuid.UUID) error {
	delete(t.st.participants, participantKey{conversationID, userID})
	return nil
}

func (t *memTx) IsParticipant(_ context.Context, conversationID, userID uuid.UUID) (bool, error) {
	_, ok := t.st.participants[participantKey{conversationID, userID}]
	return ok, nil
}

func (t *memTx) InsertMessage(_ context.Context, m *models.Message) error {
	t.st.messages = append(t.st.messages, *m)
	return nil
}

func (t *memTx) GetFriendship(_ context.Context, a, b uuid.UUID) (*models.Friendship, error) {
	f, ok := t.st.friendships[pairKey{a, b}]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (t *memTx) InsertFriendship(_ context.Context, f *models.Friendship) (bool, error) {
	k := pairKey{f.UserAID, f.UserBID}
	if _, ok := t.st.friendships[k]; ok {
		return false, nil
	}
	t.st.friendships[k] = *f
	return true, nil
}

func (t *memTx) DeleteFriendship(_ context.Context, a, b uuid.UUID) (bool, error) {
	k := pairKey{a, b}
	if _, ok := t.st.friendships[k]; !ok {
		return false, nil
	}
	delete(t.st.friendships, k)
	return true, nil
}

func (t *memTx) ListFriendships(_ context.Context, userID uuid.UUID) ([]models.Friendship, error) {
	var out []models.Friendship
	for _, f := range t.st.friendships {
		if f.UserAID == userID || f.UserBID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) PendingFriendRequestBetween(_ context.Context, a, b uuid.UUID) (*models.FriendRequest, error) {
	for _, r := range t.st.friendRequests {
		if r.Status != models.StatusPending {
			continue
		}
		if (r.FromUserID == a && r.ToUserID == b) || (r.FromUserID == b && r.ToUserID == a) {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) InsertFriendRequest(ctx context.Context, r *models.FriendRequest) error {
	if r.Status == models.StatusPending {
		if _, err := t.PendingFriendRequestBetween(ctx, r.FromUserID, r.ToUserID); err == nil {
			return ErrDuplicate
		}
	}
	t.st.friendRequests[r.ID] = *r
	return nil
}

func (t *memTx) LockFriendRequest(_ context.Context, id uuid.UUID) (*models.FriendRequest, error) {
	r, ok := t.st.friendRequests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memTx) UpdateFriendRequest(_ context.Context, r *models.FriendRequest) error {
	if _, ok := t.st.friendRequests[r.ID]; !ok {
		return ErrNotFound
	}
	t.st.friendRequests[r.ID] = *r
	return nil
}

func (t *memTx) UpsertBlock(_ context.Context, b *models.Block) error {
	k := pairKey{b.BlockerUserID, b.BlockedUserID}
	if _, ok := t.st.blocks[k]; !ok {
		t.st.blocks[k] = *b
	}
	return nil
}

func (t *memTx) DeleteBlock(_ context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	k := pairKey{blockerID, blockedID}
	if _, ok := t.st.blocks[k]; !ok {
		return false, nil
	}
	delete(t.st.blocks, k)
	return true, nil
}

func (t *memTx) IsBlocked(_ context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	_, ok := t.st.blocks[pairKey{blockerID, blockedID}]
	return ok, nil
}

func (t *memTx) HasXpEvent(_ context.Context, userID uuid.UUID, kind models.XpKind, meta map[string]string) (bool, error) {
	for _, e := range t.st.xpEvents {
		if e.UserID == userID && e.Kind == kind && maps.Equal(e.Meta, meta) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CountXpEvents(_ context.Context, userID uuid.UUID, kind models.XpKind, since time.Time) (int, error) {
	n := 0
	for _, e := range t.st.xpEvents {
		if e.UserID == userID && e.Kind == kind && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertXpEvent(_ context.Context, e *models.XpEvent) error {
	t.st.xpEvents = append(t.st.xpEvents, *e)
	return nil
}

func (t *memTx) CountRateEvents(_ context.Context, userID uuid.UUID, key string, since time.Time) (int, error) {
	n := 0
	for _, e := range t.st.rateEvents {
		if e.userID == userID && e.key == key && !e.at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertRateEvent(_ context.Context, userID uuid.UUID, key string, at time.Time) error {
	t.st.rateEvents = append(t.st.rateEvents, rateEvent{userID: userID, key: key, at: at})
	return nil
}

func (t *memTx) PurgeRateEvents(_ context.Context, before time.Time) (int64, error) {
	kept := t.st.rateEvents[:0]
	var purged int64
	for _, e := range t.st.rateEvents {
		if e.at.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	t.st.rateEvents = kept
	return purged, nil
}
