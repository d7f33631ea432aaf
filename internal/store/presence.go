package store

import (
	"sort"
	"time"
)

// Presence tracks which users are online and which are typing to the local
// user. Typing entries carry a deadline after which they no longer count.
type Presence struct {
	online map[string]struct{}
	typing map[string]time.Time
}

// NewPresence creates an empty presence tracker.
func NewPresence() *Presence {
	return &Presence{
		online: make(map[string]struct{}),
		typing: make(map[string]time.Time),
	}
}

// ReplaceOnline swaps the whole online set for ids.
func (p *Presence) ReplaceOnline(ids []string) {
	p.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			p.online[id] = struct{}{}
		}
	}
}

// SetOnline adds one user to the online set.
func (p *Presence) SetOnline(id string) {
	if id == "" {
		return
	}
	p.online[id] = struct{}{}
}

// SetOffline removes one user from the online set. An offline user is not typing.
func (p *Presence) SetOffline(id string) {
	delete(p.online, id)
	delete(p.typing, id)
}

func (p *Presence) IsOnline(id string) bool {
	_, ok := p.online[id]
	return ok
}

// Online returns the online set, sorted.
func (p *Presence) Online() []string {
	return sortedKeys(p.online)
}

// StartTyping marks id as typing until the given deadline. A repeat call
// refreshes the deadline.
func (p *Presence) StartTyping(id string, until time.Time) {
	if id == "" {
		return
	}
	p.typing[id] = until
}

// StopTyping clears id's typing flag. Returns false if it was not set.
func (p *Presence) StopTyping(id string) bool {
	if _, ok := p.typing[id]; !ok {
		return false
	}
	delete(p.typing, id)
	return true
}

// IsTyping reports whether id is typing and its deadline has not passed.
func (p *Presence) IsTyping(id string, now time.Time) bool {
	until, ok := p.typing[id]
	return ok && now.Before(until)
}

// Typing returns the users typing at now, sorted.
func (p *Presence) Typing(now time.Time) []string {
	ids := make([]string, 0, len(p.typing))
	for id, until := range p.typing {
		if now.Before(until) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ExpireTyping drops entries whose deadline is at or before now and returns them.
func (p *Presence) ExpireTyping(now time.Time) []string {
	var expired []string
	for id, until := range p.typing {
		if !now.Before(until) {
			expired = append(expired, id)
			delete(p.typing, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// ClearTyping drops every typing entry.
func (p *Presence) ClearTyping() {
	p.typing = make(map[string]time.Time)
}

// Clear resets both sets.
func (p *Presence) Clear() {
	p.online = make(map[string]struct{})
	p.ClearTyping()
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
