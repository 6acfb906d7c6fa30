package tile_proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProgressMessage(t *testing.T) {
	job := newJob("a", Transformer.EPSG4326, LayerImagery, 15, testRange)
	job.Current = 3

	msg := newProgressMessage(job)
	assert.Equal(t, "progress", msg.Type)
	assert.InDelta(t, 1.0/3, msg.Progress, 1e-9)

	job.State = StateCompleted
	assert.Equal(t, "completed", newProgressMessage(job).Type)
	job.State = StateCancelled
	assert.Equal(t, "cancelled", newProgressMessage(job).Type)
}

func TestProgressHubPublish(t *testing.T) {
	hub := NewProgressHub(nil)
	job := newJob("a", Transformer.EPSG4326, LayerImagery, 15, testRange)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, hub.Serve(w, r, job))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg ProgressMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "a", msg.UUID)
	assert.Equal(t, 0, msg.Data.Current)
	assert.Equal(t, 1, hub.Subscribers("a"))

	// 其他任务的快照不推送
	hub.Publish(newJob("b", Transformer.EPSG4326, LayerImagery, 15, testRange))

	job.Current = 9
	job.State = StateCompleted
	hub.Publish(job)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "completed", msg.Type)
	assert.Equal(t, 9, msg.Data.Current)
	assert.Equal(t, 1.0, msg.Progress)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.Subscribers("a") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProgressHubPublishDoesNotWaitForSlowClient(t *testing.T) {
	hub := NewProgressHub(nil)
	job := newJob("slow", Transformer.EPSG4326, LayerImagery, 15, testRange)

	// 没有写协程的连接，相当于客户端停止读取
	client := newWSClient(nil, 4)
	hub.subscribe(job.ID, client)

	start := time.Now()
	for i := 0; i < 100; i++ {
		job.Current = i
		hub.Publish(job)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, client.send, 4)

	// 最早的消息保留，溢出的被丢弃
	msg := <-client.send
	assert.Equal(t, 0, msg.Data.Current)

	hub.unregister(job.ID, client)
	assert.Equal(t, 0, hub.Subscribers(job.ID))
	assert.False(t, client.enqueue(newProgressMessage(job)))
}
