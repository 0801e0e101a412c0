package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBrokerFansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newInstance := func() (*RedisBroker, *Hub, *client) {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		hub := NewHub(nil, nil)
		c := &client{topics: map[string]struct{}{"admin": {}}, send: make(chan []byte, 4)}
		hub.register(c)
		broker := NewRedisBroker(rdb, "visits:live", hub, nil)
		go func() { _ = broker.Run(ctx) }()
		return broker, hub, c
	}
	publisher, _, first := newInstance()
	_, _, second := newInstance()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("visits:live")["visits:live"] == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, publisher.Publish(ctx, LiveEvent{
		Event:        KindVisitRequest,
		Topic:        "admin",
		Notification: &Notification{ID: 7, Message: "nueva visita"},
	}))

	for _, c := range []*client{first, second} {
		select {
		case data := <-c.send:
			assert.Contains(t, string(data), `"event":"solicitudVisita"`)
			assert.Contains(t, string(data), `"id":7`)
		case <-time.After(2 * time.Second):
			t.Fatal("live event not delivered")
		}
	}
}

func TestLocalBrokerFeedsHub(t *testing.T) {
	hub := NewHub(nil, nil)
	c := &client{topics: map[string]struct{}{"medico:4": {}}, send: make(chan []byte, 1)}
	hub.register(c)

	require.NoError(t, NewLocalBroker(hub).Publish(context.Background(), LiveEvent{Event: KindDoctorVisit, Topic: "medico:4"}))
	select {
	case data := <-c.send:
		assert.Contains(t, string(data), "visitaMedico")
	default:
		t.Fatal("expected event")
	}
}
