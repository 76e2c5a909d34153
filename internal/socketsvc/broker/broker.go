package broker

import (
	"encoding/json"

	"github.com/avvvet/explain-services/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Controller carries out operator commands for rooms held by this process.
type Controller interface {
	RetryRoom(roomID string) bool
	CloseRoom(roomID, reason string) bool
}

// Broker consumes operator commands from NATS.
type Broker struct {
	Conn       *nats.Conn
	controller Controller
}

func NewBroker(conn *nats.Conn, controller Controller) *Broker {
	return &Broker{
		Conn:       conn,
		controller: controller,
	}
}

// Subscribe listens on topic. Every instance receives each command and only
// the one holding the room acts on it.
func (b *Broker) Subscribe(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleMessages)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) handleMessages(msgNats *nats.Msg) {
	b.handle(msgNats.Data)
}

func (b *Broker) handle(data []byte) {
	message := &comm.WSMessage{}
	if err := json.Unmarshal(data, message); err != nil {
		log.Errorf("Error [Broker.handle] malformed control message: %s", err)
		return
	}

	var cmd comm.ControlCommand
	if err := json.Unmarshal(message.Data, &cmd); err != nil || cmd.RoomID == "" {
		log.Warnf("control %s without a room id", message.Type)
		return
	}

	var handled bool
	switch message.Type {
	case comm.ControlRoomRetry:
		handled = b.controller.RetryRoom(cmd.RoomID)
	case comm.ControlRoomClose:
		handled = b.controller.CloseRoom(cmd.RoomID, "closed by operator")
	default:
		log.Warnf("unknown control command: %s", message.Type)
		return
	}

	log.WithFields(log.Fields{"room": cmd.RoomID, "command": message.Type, "handled": handled}).Info("control command received")
}
