package broker

import (
	"encoding/json"
	"testing"

	"github.com/avvvet/explain-services/internal/comm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	retried []string
	closed  []string
}

func (r *recorder) RetryRoom(roomID string) bool {
	r.retried = append(r.retried, roomID)
	return true
}

func (r *recorder) CloseRoom(roomID, reason string) bool {
	r.closed = append(r.closed, roomID)
	return true
}

func command(t *testing.T, typ, roomID string) []byte {
	t.Helper()
	msg, err := comm.NewMessage(typ, comm.ControlCommand{RoomID: roomID})
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestHandleDispatchesCommands(t *testing.T) {
	rec := &recorder{}
	b := NewBroker(nil, rec)

	b.handle(command(t, comm.ControlRoomRetry, "r1"))
	b.handle(command(t, comm.ControlRoomClose, "r2"))
	b.handle(command(t, "room-explode", "r3"))
	b.handle(command(t, comm.ControlRoomRetry, ""))
	b.handle([]byte("not json"))

	assert.Equal(t, []string{"r1"}, rec.retried)
	assert.Equal(t, []string{"r2"}, rec.closed)
}
