package rooms

import (
	"errors"
	"sync"
	"time"

	"github.com/marmos91/relaychat/pkg/registry"
)

// MaxMembers is the member capacity of a room.
const MaxMembers = 15

// MaxNameLength is the longest accepted room name.
const MaxNameLength = 32

// ErrRoomFull is returned by Join when every member slot is occupied.
var ErrRoomFull = errors.New("room is full")

// Room is one named group-chat scope.
//
// The room's mutex guards the member slot array, the member count, the
// broadcast counter, and the activity timestamp. Fan-out callers take a
// member snapshot inside the critical section that mutates membership
// and send after unlocking, so a reply's reported count always agrees
// with the set of members notified.
type Room struct {
	// Name is immutable after creation.
	Name string

	// CreatedAt records when the first join created the room.
	CreatedAt time.Time

	mu              sync.Mutex
	members         [MaxMembers]*registry.Session
	memberCount     int
	totalBroadcasts int
	lastActivity    time.Time
}

func newRoom(name string) *Room {
	now := time.Now()
	return &Room{
		Name:         name,
		CreatedAt:    now,
		lastActivity: now,
	}
}

// Join inserts s into the first empty slot and returns the resulting
// member count together with a snapshot of the other members present at
// that instant. Callers send join notifications to the snapshot after
// this returns.
func (r *Room) Join(s *registry.Session) (count int, others []*registry.Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.memberCount >= MaxMembers {
		return r.memberCount, nil, ErrRoomFull
	}

	slot := -1
	for i := range r.members {
		if r.members[i] == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		return r.memberCount, nil, ErrRoomFull
	}

	r.members[slot] = s
	r.memberCount++
	r.lastActivity = time.Now()

	for _, m := range r.members {
		if m != nil && m != s && m.Active() {
			others = append(others, m)
		}
	}
	return r.memberCount, others, nil
}

// Leave clears s's slot and returns the remaining member count together
// with a snapshot of the members still present. found is false when s
// held no slot.
func (r *Room) Leave(s *registry.Session) (count int, remaining []*registry.Session, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.members {
		if r.members[i] == s {
			r.members[i] = nil
			r.memberCount--
			r.lastActivity = time.Now()
			found = true
			break
		}
	}
	if !found {
		return r.memberCount, nil, false
	}

	for _, m := range r.members {
		if m != nil && m.Active() {
			remaining = append(remaining, m)
		}
	}
	return r.memberCount, remaining, true
}

// Recipients returns a snapshot of active members other than sender and
// bumps the broadcast counter and activity timestamp.
func (r *Room) Recipients(sender *registry.Session) []*registry.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*registry.Session
	for _, m := range r.members {
		if m != nil && m != sender && m.Active() {
			out = append(out, m)
		}
	}

	r.totalBroadcasts++
	r.lastActivity = time.Now()
	return out
}

// MemberCount returns the current member count.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberCount
}

// Stats returns the broadcast counter and last-activity time.
func (r *Room) Stats() (broadcasts int, lastActivity time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalBroadcasts, r.lastActivity
}

// MemberNames returns the usernames of current members. Used by the
// admin API snapshots.
func (r *Room) MemberNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, r.memberCount)
	for _, m := range r.members {
		if m != nil {
			names = append(names, m.Username)
		}
	}
	return names
}
