package ws

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/avvvet/explain-services/internal/auth"
	"github.com/avvvet/explain-services/internal/comm"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
	log "github.com/sirupsen/logrus"
)

// SocketMessage handles one frame from a web client. Rate limits are checked
// before any game logic runs.
func (s *Ws) SocketMessage(c *Client, message *comm.WSMessage) {
	if message.Type == comm.EventPing {
		s.handlePing(c)
		return
	}

	if err := s.limiter.AllowAction(c.Identity.UserID); err != nil {
		s.sendError(c, err)
		return
	}

	var err error
	switch message.Type {
	case comm.EventJoin:
		err = s.handleJoin(c, message)
	case comm.EventLeave:
		err = s.handleLeave(c)
	case comm.EventReady, comm.EventChoose, comm.EventSubmit:
		if err = s.limiter.AllowEvent(c.ID); err != nil {
			break
		}
		err = s.handleGameEvent(c, message)
	default:
		log.Warnf("unknown event received: %s", message.Type)
		err = errUnknownEvent
	}

	if err != nil {
		s.sendError(c, err)
	}
}

func (s *Ws) handleGameEvent(c *Client, message *comm.WSMessage) error {
	r, err := s.roomOf(c)
	if err != nil {
		return err
	}

	switch message.Type {
	case comm.EventReady:
		return s.handleReady(c, r)
	case comm.EventChoose:
		var req comm.ChooseRequest
		if err := json.Unmarshal(message.Data, &req); err != nil {
			return errInvalidPayload
		}
		return s.handleChoose(c, r, req)
	default:
		var req comm.SubmitRequest
		if err := json.Unmarshal(message.Data, &req); err != nil {
			return errInvalidPayload
		}
		return s.handleSubmit(c, r, req)
	}
}

func (s *Ws) roomOf(c *Client) (*room.Room, error) {
	roomID := c.RoomID()
	if roomID == "" {
		return nil, room.ErrNotInRoom
	}
	r := s.rooms.Get(roomID)
	if r == nil {
		c.leaveRoom(roomID)
		return nil, room.ErrNotInRoom
	}
	return r, nil
}

func (s *Ws) handlePing(c *Client) {
	if r, err := s.roomOf(c); err == nil {
		r.Lock()
		if me, _ := r.Seat(c.Identity.UserID); me != nil && me.SocketID == c.ID {
			me.LastHeartbeat = s.now()
		}
		r.Unlock()
	}
	s.sendTo(c, comm.EventPong, nil)
}

// handleJoin binds the connection to a seat. A user not yet seated takes
// the free guest seat, subject to the daily quota.
func (s *Ws) handleJoin(c *Client, message *comm.WSMessage) error {
	var req comm.JoinRequest
	if err := json.Unmarshal(message.Data, &req); err != nil || strings.TrimSpace(req.RoomCode) == "" {
		return errInvalidPayload
	}

	id := c.Identity
	if req.UserID != "" && req.UserID != id.UserID {
		return errIdentityMismatch
	}
	if req.Token != "" {
		tokenID, err := s.authn.Verify(req.Token)
		if err != nil || tokenID.UserID != id.UserID {
			return errIdentityMismatch
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	r, err := s.rooms.Resolve(ctx, req.RoomCode)
	if err != nil {
		return err
	}
	if !seated(r, id.UserID) {
		if r, err = s.join(ctx, id, req.RoomCode); err != nil {
			return err
		}
	}

	if prev := c.RoomID(); prev != "" && prev != r.ID {
		if userID, old := s.detachSeat(c); old != nil {
			s.sendToOthers(old, userID, comm.EventPlayerDisconnected, comm.PlayerRef{UserID: userID})
		}
	}

	r.Lock()
	me, _ := r.Seat(id.UserID)
	if r.Closed() || me == nil {
		r.Unlock()
		return room.ErrRoomNotFound
	}
	previous := me.SocketID
	me.Attach(c.ID, s.now())
	joined := comm.PlayerJoined{Player: playerView(me, me == r.Host), Room: s.roomView(r)}
	pending := s.catchUp(r)
	r.Unlock()

	c.setRoom(r.ID)
	if previous != "" && previous != c.ID {
		if old := s.client(previous); old != nil {
			old.leaveRoom(r.ID)
		}
	}

	log.WithFields(log.Fields{"room": r.ID, "user": id.UserID, "socket": c.ID}).Info("player bound to room")

	s.broadcast(r, comm.EventPlayerJoined, joined)
	for _, m := range pending {
		s.sendTo(c, m.typ, m.payload)
	}
	return nil
}

// join seats id as guest after checking the daily quota.
func (s *Ws) join(ctx context.Context, id *auth.Identity, code string) (*room.Room, error) {
	if err := s.limiter.EnforceDailyLimit(ctx, id.UserID, id.Guest); err != nil {
		return nil, err
	}
	return s.rooms.JoinRoom(ctx, code, id.UserID, id.Name)
}

func seated(r *room.Room, userID string) bool {
	r.Lock()
	defer r.Unlock()
	me, _ := r.Seat(userID)
	return me != nil && !r.Closed()
}

func (s *Ws) handleLeave(c *Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	_, err := s.Leave(ctx, c.Identity.UserID)
	return err
}

// Leave removes userID from its room and tells the remaining player. A
// leaving host closes the room for both.
func (s *Ws) Leave(ctx context.Context, userID string) (*room.LeaveResult, error) {
	var socketID string
	if r := s.rooms.GetByPlayer(userID); r != nil {
		r.Lock()
		if me, _ := r.Seat(userID); me != nil {
			socketID = me.SocketID
		}
		r.Unlock()
	}

	res, err := s.rooms.LeaveRoom(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c := s.client(socketID); c != nil {
		c.leaveRoom(res.Room.ID)
	}

	if res.Remaining != nil {
		if res.HostLeft {
			// the room is closed already; the socket binding survives on the seat
			s.sendToPlayer(res.Room, res.Remaining.UserID, comm.EventError, comm.Error{Message: "the host left the room"})
		} else {
			s.sendToPlayer(res.Room, res.Remaining.UserID, comm.EventPlayerLeft, comm.PlayerRef{UserID: userID})
		}
	}
	return res, nil
}

// Announce tells everyone in r that userID took a seat through the REST
// entry point.
func (s *Ws) Announce(r *room.Room, userID string) {
	r.Lock()
	me, _ := r.Seat(userID)
	if me == nil || r.Closed() {
		r.Unlock()
		return
	}
	joined := comm.PlayerJoined{Player: playerView(me, me == r.Host), Room: s.roomView(r)}
	r.Unlock()

	s.broadcast(r, comm.EventPlayerJoined, joined)
}

// handleReady marks the player ready and starts the countdown once both
// are. In a room stalled by a failed judge call it retries that call.
func (s *Ws) handleReady(c *Client, r *room.Room) error {
	if phase, seq, stalled := s.engine.Stalled(r); stalled {
		log.WithFields(log.Fields{"room": r.ID, "user": c.Identity.UserID, "phase": phase}).Info("retry requested")
		go s.retry(r, phase, seq)
		return nil
	}

	start, err := s.engine.MarkReady(r, c.Identity.UserID)
	if err != nil {
		return err
	}
	if start {
		s.startCountdown(r)
	}
	return nil
}

func (s *Ws) handleChoose(c *Client, r *room.Room, req comm.ChooseRequest) error {
	userID := c.Identity.UserID
	both, err := s.engine.Choose(r, userID, req.Choice)
	if err != nil {
		return err
	}

	s.sendToOthers(r, userID, comm.EventOpponentChose, nil)
	if both {
		s.startWriting(r, currentSeq(r))
	}
	return nil
}

func (s *Ws) handleSubmit(c *Client, r *room.Room, req comm.SubmitRequest) error {
	userID := c.Identity.UserID
	both, err := s.engine.SubmitReason(r, userID, req.Reason)
	if err != nil {
		return err
	}

	s.sendToOthers(r, userID, comm.EventOpponentSubmitted, nil)
	if both {
		go s.judge(r, currentSeq(r))
	}
	return nil
}

func currentSeq(r *room.Room) uint64 {
	r.Lock()
	defer r.Unlock()
	return r.Seq()
}
