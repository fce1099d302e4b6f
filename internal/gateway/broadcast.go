package gateway

import (
	"go.uber.org/zap"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/session"
)

// Broadcaster delivers an encoded server message to every connection that is
// a member of at least one of rooms. Each connection receives it once.
type Broadcaster interface {
	Broadcast(rooms []string, data []byte)
}

// LocalBroadcaster delivers to room members held by this process.
type LocalBroadcaster struct {
	rooms *session.Rooms
	push  Pusher
	log   *zap.Logger
}

// NewLocalBroadcaster creates a LocalBroadcaster.
func NewLocalBroadcaster(rooms *session.Rooms, push Pusher, log *zap.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{rooms: rooms, push: push, log: log.Named("broadcast")}
}

// Broadcast pushes data to the deduplicated members of rooms. Failed pushes
// are logged and skipped.
func (b *LocalBroadcaster) Broadcast(rooms []string, data []byte) {
	b.deliver(rooms, data)
}

func (b *LocalBroadcaster) deliver(rooms []string, data []byte) int {
	delivered := 0
	for _, connID := range b.rooms.Members(rooms...) {
		if err := b.push.SendMessage(connID, data); err != nil {
			b.log.Debug("broadcast push failed", zap.String("conn_id", connID), zap.Error(err))
			continue
		}
		delivered++
	}
	metrics.BroadcastRecipients.Observe(float64(delivered))
	return delivered
}

// RoomBus carries room events between gateway processes.
// *messaging.NATSClient implements it.
type RoomBus interface {
	PublishRoomEvent(event chat.RoomEvent) error
	SubscribeRoomEvents(handler func(chat.RoomEvent)) error
}

// BusBroadcaster delivers broadcasts to local room members and publishes them
// on a RoomBus for the other gateway processes. Events it receives back from
// the bus with its own origin are skipped.
type BusBroadcaster struct {
	bus    RoomBus
	local  *LocalBroadcaster
	origin string
	log    *zap.Logger
}

// NewBusBroadcaster creates a BusBroadcaster. origin must be unique per
// process. Call Start before use.
func NewBusBroadcaster(bus RoomBus, local *LocalBroadcaster, origin string, log *zap.Logger) *BusBroadcaster {
	return &BusBroadcaster{bus: bus, local: local, origin: origin, log: log.Named("bus")}
}

// Start subscribes to the bus.
func (b *BusBroadcaster) Start() error {
	return b.bus.SubscribeRoomEvents(func(event chat.RoomEvent) {
		if event.Origin == b.origin {
			return
		}
		b.local.deliver(event.Rooms, event.Payload)
	})
}

// Broadcast delivers locally, then publishes to the bus. A failed publish only
// loses delivery to members on other processes.
func (b *BusBroadcaster) Broadcast(rooms []string, data []byte) {
	b.local.deliver(rooms, data)
	err := b.bus.PublishRoomEvent(chat.RoomEvent{Rooms: rooms, Payload: data, Origin: b.origin})
	if err != nil {
		b.log.Warn("publish room event failed", zap.Strings("rooms", rooms), zap.Error(err))
	}
}
