package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"twentyeight/internal/card"
	"twentyeight/internal/engine"
	"twentyeight/internal/protocol"
)

func TestBroadcastTailorsPrivateView(t *testing.T) {
	hub := NewHub()
	seat0 := hub.Subscribe("conn-0", 0)
	seat1 := hub.Subscribe("conn-1", 1)
	spectator := hub.Subscribe("conn-spec", -1)

	hands := map[int][]card.Card{
		0: {{Suit: card.Spades, Rank: card.Jack, DeckIndex: card.DeckOne}},
		1: {{Suit: card.Hearts, Rank: card.Nine, DeckIndex: card.DeckOne}},
	}
	hub.Broadcast(engine.PublicView{Revision: 1}, func(seat int) []card.Card {
		return hands[seat]
	}, func(seat int) []card.Card {
		return hands[seat]
	})

	payload0 := decodeSnapshot(t, recvWithin(t, seat0))
	require.Equal(t, 0, payload0.YourSeat)
	require.Len(t, payload0.YourHand, 1)
	require.Equal(t, card.Jack, payload0.YourHand[0].Rank)

	payload1 := decodeSnapshot(t, recvWithin(t, seat1))
	require.Len(t, payload1.YourHand, 1)
	require.Equal(t, card.Nine, payload1.YourHand[0].Rank)

	payloadSpec := decodeSnapshot(t, recvWithin(t, spectator))
	require.Empty(t, payloadSpec.YourHand)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("conn-0", 0)
	hub.Unsubscribe("conn-0")
	_, ok := <-sub.Out()
	require.False(t, ok)
	require.Equal(t, 0, hub.Count())
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("conn-0", 0)
	for i := 0; i < subscriberSendBuffer; i++ {
		require.True(t, sub.Send([]byte("x")))
	}
	require.False(t, sub.Send([]byte("overflow")))
}

func TestBroadcastRemovesSubscriberWithFullQueue(t *testing.T) {
	hub := NewHub()
	stuck := hub.Subscribe("conn-stuck", 0)
	live := hub.Subscribe("conn-live", 1)

	for i := 0; i < subscriberSendBuffer; i++ {
		require.True(t, stuck.Send([]byte("x")))
	}

	hub.Broadcast(engine.PublicView{Revision: 1}, func(int) []card.Card { return nil }, func(int) []card.Card { return nil })

	require.Equal(t, 1, hub.Count())
	_, ok := <-live.Out()
	require.True(t, ok)
}

func TestSendSnapshotToDeliversOnlyToTargetSubscriber(t *testing.T) {
	hub := NewHub()
	target := hub.Subscribe("conn-0", 0)
	other := hub.Subscribe("conn-1", 1)

	ok := hub.SendSnapshotTo("conn-0", engine.PublicView{Revision: 1}, func(int) []card.Card { return nil }, func(int) []card.Card { return nil })
	require.True(t, ok)

	recvWithin(t, target)
	select {
	case <-other.Out():
		t.Fatal("SendSnapshotTo must not deliver to other subscribers")
	default:
	}
}

func decodeSnapshot(t *testing.T, msg []byte) protocol.StateSnapshotPayload {
	t.Helper()
	env, err := protocol.Decode(msg)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeStateSnapshot, env.Type)
	var payload protocol.StateSnapshotPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return payload
}

func recvWithin(t *testing.T, sub *Subscriber) []byte {
	t.Helper()
	select {
	case msg := <-sub.Out():
		return msg
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s received nothing", sub.ID)
		return nil
	}
}
