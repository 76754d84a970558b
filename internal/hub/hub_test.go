package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qingyuz/avalon-backend/internal/protocol"
	"github.com/qingyuz/avalon-backend/internal/room"
)

type nopSender struct{}

func (nopSender) Send(string, string, protocol.Envelope) {}
func (nopSender) Broadcast(string, protocol.Envelope)    {}
func (nopSender) DisconnectAll(string, string)           {}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(context.Background(), nil, nopSender{}, nil)
	t.Cleanup(func() { h.Inbox() <- ShutdownHub{} })
	return h
}

func createRoom(t *testing.T, h *Hub, name, host string) Created {
	t.Helper()
	reply := make(chan Created, 1)
	h.Inbox() <- CreateRoom{Name: name, HostName: host, Reply: reply}
	return <-reply
}

func TestCreateAndGetRoom(t *testing.T) {
	h := newTestHub(t)
	created := createRoom(t, h, "测试房间", "房主")
	require.NotNil(t, created.Room)
	assert.NotEmpty(t, created.RoomID)
	assert.NotEmpty(t, created.HostID)

	reply := make(chan *room.Room, 1)
	h.Inbox() <- GetRoom{ID: created.RoomID, Reply: reply}
	assert.Same(t, created.Room, <-reply)

	h.Inbox() <- GetRoom{ID: "nope", Reply: reply}
	assert.Nil(t, <-reply)
}

func TestListAndRemoveRooms(t *testing.T) {
	h := newTestHub(t)
	a := createRoom(t, h, "一号", "甲")
	createRoom(t, h, "二号", "乙")

	reply := make(chan []*room.Room, 1)
	h.Inbox() <- ListRooms{Reply: reply}
	assert.Len(t, <-reply, 2)

	h.Inbox() <- RemoveRoom{ID: a.RoomID}
	h.Inbox() <- ListRooms{Reply: reply}
	assert.Len(t, <-reply, 1)
}

func TestRoomCloseRemovesDirectoryEntry(t *testing.T) {
	h := newTestHub(t)
	created := createRoom(t, h, "一号", "甲")

	// The host leaving an otherwise empty room closes it, which must drop it
	// from the directory.
	leave := make(chan room.LeaveResult, 1)
	created.Room.Inbox() <- room.Leave{PlayerID: created.HostID, Reply: leave}
	res := <-leave
	require.NoError(t, res.Err)
	require.True(t, res.RoomDeleted)

	reply := make(chan *room.Room, 1)
	assert.Eventually(t, func() bool {
		h.Inbox() <- GetRoom{ID: created.RoomID, Reply: reply}
		return <-reply == nil
	}, time.Second, 10*time.Millisecond)
}
