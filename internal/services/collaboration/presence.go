package collaboration

import (
	"sort"
	"sync"

	"collabd/internal/models"
)

// PresenceRegistry tracks joined users. Every membership change publishes a
// Presence event for the affected (room, doc) while the registry lock is
// held, so Presence snapshots reach the bus in the order they were taken.
type PresenceRegistry struct {
	mu        sync.Mutex
	nextID    uint64
	users     map[uint64]models.UserState
	publisher Publisher
}

// NewPresenceRegistry creates an empty registry. publisher may be nil.
func NewPresenceRegistry(publisher Publisher) *PresenceRegistry {
	return &PresenceRegistry{
		users:     make(map[uint64]models.UserState),
		publisher: publisher,
	}
}

// Register assigns a fresh user id (ids start at 1 and are never reused),
// records the user and returns the session's membership including it.
func (p *PresenceRegistry) Register(name, room, doc string) (models.UserState, []models.UserInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	user := models.UserState{ID: p.nextID, Name: name, Room: room, Doc: doc}
	p.users[user.ID] = user

	members := p.membersLocked(room, doc)
	p.announceLocked(room, doc, members)
	return user, members
}

// Remove deletes a user and announces the remaining membership.
func (p *PresenceRegistry) Remove(id uint64) (models.UserState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.users[id]
	if !ok {
		return models.UserState{}, false
	}
	delete(p.users, id)

	p.announceLocked(user.Room, user.Doc, p.membersLocked(user.Room, user.Doc))
	return user, true
}

// Get returns the presence entry for id.
func (p *PresenceRegistry) Get(id uint64) (models.UserState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[id]
	return user, ok
}

// MembersOf lists the users joined to (room, doc), ordered by id.
func (p *PresenceRegistry) MembersOf(room, doc string) []models.UserInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.membersLocked(room, doc)
}

// Len returns the number of joined users across all sessions.
func (p *PresenceRegistry) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.users)
}

func (p *PresenceRegistry) membersLocked(room, doc string) []models.UserInfo {
	members := make([]models.UserInfo, 0)
	for _, u := range p.users {
		if u.Room == room && u.Doc == doc {
			members = append(members, u.Info())
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

func (p *PresenceRegistry) announceLocked(room, doc string, members []models.UserInfo) {
	if p.publisher == nil {
		return
	}
	p.publisher.Publish(models.ServerMessage{
		Type:  models.ServerPresence,
		Room:  room,
		Doc:   doc,
		Users: members,
	})
}
