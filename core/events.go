package core

import "time"

// EventType enumerates the wire protocol's logical events.
type EventType string

const (
	EventJoin        EventType = "join"
	EventQuit        EventType = "quit"
	EventTokenCreate EventType = "token-create"
	EventTokenUpdate EventType = "token-update"
	EventTokenDelete EventType = "token-delete"
	EventSceneCreate EventType = "scene-create"
	EventSceneDelete EventType = "scene-delete"
)

// Mutation reports whether events of this type change game state and thus
// must pass through the game's mutation lock.
func (t EventType) Mutation() bool {
	switch t {
	case EventTokenCreate, EventTokenUpdate, EventTokenDelete, EventSceneCreate, EventSceneDelete:
		return true
	}
	return false
}

// Event is one JSON message of the session protocol. Exactly one object is
// sent per logical event; unused fields are omitted.
type Event struct {
	Type   EventType `json:"type"`
	Time   time.Time `json:"time"`
	Player string    `json:"player,omitempty"`
	Color  string    `json:"color,omitempty"`
	Scene  int       `json:"scene"`
	Token  *Token    `json:"token,omitempty"`
}

func NewJoin(player, color string) Event {
	return Event{Type: EventJoin, Time: time.Now().UTC(), Player: player, Color: color}
}

func NewQuit(player string) Event {
	return Event{Type: EventQuit, Time: time.Now().UTC(), Player: player}
}

func NewTokenCreate(scene int, tok Token) Event {
	return Event{Type: EventTokenCreate, Time: time.Now().UTC(), Scene: scene, Token: &tok}
}

func NewTokenUpdate(scene int, tok Token) Event {
	return Event{Type: EventTokenUpdate, Time: time.Now().UTC(), Scene: scene, Token: &tok}
}

func NewTokenDelete(scene int, tokenID int) Event {
	return Event{Type: EventTokenDelete, Time: time.Now().UTC(), Scene: scene, Token: &Token{ID: tokenID}}
}

func NewSceneCreate() Event {
	return Event{Type: EventSceneCreate, Time: time.Now().UTC()}
}

func NewSceneDelete(scene int) Event {
	return Event{Type: EventSceneDelete, Time: time.Now().UTC(), Scene: scene}
}
