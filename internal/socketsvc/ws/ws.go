package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/avvvet/explain-services/internal/auth"
	"github.com/avvvet/explain-services/internal/comm"
	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/avvvet/explain-services/internal/gamesvc/engine"
	"github.com/avvvet/explain-services/internal/gamesvc/ratelimit"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// storeTimeout bounds durable lookups made while handling an event.
const storeTimeout = 5 * time.Second

// Events receives room lifecycle notifications.
type Events interface {
	PublishGameOver(roomID string, out *engine.Outcome)
	PublishRoomClosed(roomID, reason string)
}

// Ws is the session protocol server. It owns the websocket connections and
// drives every room through its phases in response to player events and
// phase timers.
type Ws struct {
	connMap sync.Map // socketId -> *Client

	rooms   *room.Manager
	engine  *engine.Engine
	limiter *ratelimit.Limiter
	authn   *auth.Authenticator
	events  Events

	judgeTimeout time.Duration
	readLimit    int64
	pingPeriod   time.Duration
	pongWait     time.Duration
	now          func() time.Time
}

func NewWs(cfg *config.Config, rooms *room.Manager, eng *engine.Engine, limiter *ratelimit.Limiter, authn *auth.Authenticator, events Events) *Ws {
	s := &Ws{
		rooms:        rooms,
		engine:       eng,
		limiter:      limiter,
		authn:        authn,
		events:       events,
		judgeTimeout: judgeBudget(cfg.AI),
		readLimit:    readLimitFor(cfg.Game.MaxReasonLength),
		pingPeriod:   30 * time.Second,
		pongWait:     60 * time.Second,
		now:          time.Now,
	}
	rooms.OnRemoved(s.roomRemoved)
	return s
}

// judgeBudget covers every attempt of one judge call including backoff.
func judgeBudget(c config.AIConfig) time.Duration {
	attempts := time.Duration(c.MaxRetries + 1)
	return attempts*c.Timeout + attempts*attempts*c.RetryDelay + 5*time.Second
}

// Serve runs the read loop of an upgraded connection until it closes.
func (s *Ws) Serve(conn *websocket.Conn, identity *auth.Identity) {
	c := newClient(uuid.New().String(), identity, conn)
	s.connMap.Store(c.ID, c)
	go c.writePump(s.pingPeriod)

	log.WithFields(log.Fields{"socket": c.ID, "user": identity.UserID}).Info("New WebSocket connection established")

	defer func() {
		log.Infof("Closing WebSocket connection: %s", c.ID)
		s.HandleDisconnect(c)
	}()

	conn.SetReadLimit(s.readLimit)
	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("WebSocket unexpected close error for socket %s: %v", c.ID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.pongWait))

		message := &comm.WSMessage{}
		if err := json.Unmarshal(raw, message); err != nil {
			s.sendError(c, errInvalidPayload)
			continue
		}

		log.Debugf("Received message from socket %s: type=%s", c.ID, message.Type)
		s.SocketMessage(c, message)
	}
}

// HandleDisconnect unregisters c and marks its seat unreachable. The room
// itself carries on; phase timeouts and the sweep resolve it.
func (s *Ws) HandleDisconnect(c *Client) {
	s.connMap.Delete(c.ID)
	c.close()

	userID, detached := s.detachSeat(c)
	if detached != nil {
		s.sendToOthers(detached, userID, comm.EventPlayerDisconnected, comm.PlayerRef{UserID: userID})
	}
}

// detachSeat unbinds c from its seat when the seat still points at c.
func (s *Ws) detachSeat(c *Client) (string, *room.Room) {
	roomID := c.RoomID()
	if roomID == "" {
		return "", nil
	}
	c.leaveRoom(roomID)

	r := s.rooms.Get(roomID)
	if r == nil {
		return "", nil
	}

	userID := c.Identity.UserID
	r.Lock()
	me, _ := r.Seat(userID)
	bound := me != nil && me.SocketID == c.ID
	if bound {
		me.Detach(s.now())
	}
	r.Unlock()

	if !bound {
		return "", nil
	}
	log.WithFields(log.Fields{"room": roomID, "user": userID}).Info("player disconnected")
	return userID, r
}

func (s *Ws) client(socketID string) *Client {
	c, ok := s.connMap.Load(socketID)
	if !ok {
		return nil
	}
	return c.(*Client)
}

// Connections returns the number of open sockets.
func (s *Ws) Connections() int {
	n := 0
	s.connMap.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func encode(typ string, payload any) ([]byte, error) {
	msg, err := comm.NewMessage(typ, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func (s *Ws) sendTo(c *Client, typ string, payload any) {
	frame, err := encode(typ, payload)
	if err != nil {
		log.Errorf("Error [Ws.sendTo] unable to marshal %s: %s", typ, err)
		return
	}
	c.Send(frame)
}

func (s *Ws) sendError(c *Client, err error) {
	fields := log.Fields{"socket": c.ID, "user": c.Identity.UserID, "room": c.RoomID()}
	s.sendTo(c, comm.EventError, ClientError(err, fields))
}

// sockets returns the bound socket ids of r's players except skipUser.
func sockets(r *room.Room, skipUser string) []string {
	r.Lock()
	defer r.Unlock()

	ids := make([]string, 0, 2)
	for _, p := range r.Players() {
		if p.UserID != skipUser && p.SocketID != "" {
			ids = append(ids, p.SocketID)
		}
	}
	return ids
}

func (s *Ws) sendToSockets(ids []string, typ string, payload any) {
	if len(ids) == 0 {
		return
	}
	frame, err := encode(typ, payload)
	if err != nil {
		log.Errorf("Error [Ws.sendToSockets] unable to marshal %s: %s", typ, err)
		return
	}
	for _, id := range ids {
		if c := s.client(id); c != nil {
			c.Send(frame)
		}
	}
}

// broadcast sends one event to every connected player of r. It takes the
// room lock, so callers must not hold it.
func (s *Ws) broadcast(r *room.Room, typ string, payload any) {
	s.sendToSockets(sockets(r, ""), typ, payload)
}

func (s *Ws) sendToOthers(r *room.Room, userID, typ string, payload any) {
	s.sendToSockets(sockets(r, userID), typ, payload)
}

func (s *Ws) sendToPlayer(r *room.Room, userID, typ string, payload any) {
	r.Lock()
	var id string
	if me, _ := r.Seat(userID); me != nil {
		id = me.SocketID
	}
	r.Unlock()

	if id != "" {
		s.sendToSockets([]string{id}, typ, payload)
	}
}
