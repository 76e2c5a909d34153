package broker

import (
	"encoding/json"
	"time"

	"github.com/avvvet/explain-services/internal/comm"
	"github.com/avvvet/explain-services/internal/gamesvc/engine"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Broker publishes room lifecycle events for other services (analytics,
// leaderboards). A Broker without a connection drops every event, so the
// game runs the same with or without NATS.
type Broker struct {
	Conn     *nats.Conn
	Instance string
	now      func() time.Time
}

func NewBroker(nc *nats.Conn, instance string) *Broker {
	return &Broker{
		Conn:     nc,
		Instance: instance,
		now:      time.Now,
	}
}

func (b *Broker) PublishRoomCreated(roomID, code, hostID string) {
	b.publishEvent(comm.LifecycleRoomCreated, comm.LifecycleEvent{
		RoomID:  roomID,
		Code:    code,
		Players: []string{hostID},
	})
}

func (b *Broker) PublishGameOver(roomID string, out *engine.Outcome) {
	ev := comm.LifecycleEvent{
		RoomID:   roomID,
		WinnerID: out.WinnerID,
		Points:   out.FinalScore,
	}
	for userID := range out.FinalScore {
		ev.Players = append(ev.Players, userID)
	}
	b.publishEvent(comm.LifecycleGameOver, ev)
}

func (b *Broker) PublishRoomClosed(roomID, reason string) {
	b.publishEvent(comm.LifecycleRoomClosed, comm.LifecycleEvent{
		RoomID: roomID,
		Reason: reason,
	})
}

func (b *Broker) PublishRoomsExpired(count int64) {
	b.publishEvent(comm.LifecycleRoomsExpired, comm.LifecycleEvent{Count: count})
}

func (b *Broker) publishEvent(typ string, ev comm.LifecycleEvent) {
	if b == nil || b.Conn == nil {
		return
	}

	ev.Instance = b.Instance
	ev.At = b.now().UTC()

	msg, err := comm.NewMessage(typ, ev)
	if err != nil {
		log.Errorf("Error [Broker.publishEvent] unable to marshal %s: %s", typ, err)
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	b.Publish(comm.SubjectEvents, payload)
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}
