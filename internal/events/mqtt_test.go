package events

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements only what MQTTPublisher calls; the embedded
// interface panics on anything else.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	messages     []published
	err          error
	disconnected bool
	got          chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{got: make(chan struct{}, 16)}
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	err := c.err
	c.mu.Unlock()
	c.got <- struct{}{}
	return doneToken{err: err}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitPublished(t *testing.T, c *fakeClient) {
	t.Helper()
	select {
	case <-c.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for publish")
	}
}

func TestMQTTPublisherPublishesJSONPerRoom(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTPublisher(client, "fast-security/rooms/", discardLogger())
	defer p.Close()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.Publish(Event{Kind: KindJoined, Room: "lobby", PeerID: "cam1", ConnID: "c1", At: at})
	waitPublished(t, client)

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.messages) != 1 {
		t.Fatalf("messages=%d, want 1", len(client.messages))
	}
	msg := client.messages[0]
	if msg.topic != "fast-security/rooms/lobby" {
		t.Fatalf("topic=%q", msg.topic)
	}
	if msg.qos != 0 {
		t.Fatalf("qos=%d, want 0", msg.qos)
	}
	var got Event
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindJoined || got.Room != "lobby" || got.PeerID != "cam1" || got.ConnID != "c1" || !got.At.Equal(at) {
		t.Fatalf("event=%+v", got)
	}
}

func TestMQTTPublisherTopicEscapesRoom(t *testing.T) {
	p := &MQTTPublisher{prefix: "p"}
	for room, want := range map[string]string{
		"a/b":   "p/a%2Fb",
		"x+y":   "p/x%2By",
		"#":     "p/%23",
		"plain": "p/plain",
	} {
		if got := p.Topic(room); got != want {
			t.Fatalf("Topic(%q)=%q, want %q", room, got, want)
		}
	}
}

func TestMQTTPublisherSurvivesBrokerErrors(t *testing.T) {
	client := newFakeClient()
	client.err = errors.New("not connected")
	p := NewMQTTPublisher(client, "p", discardLogger())

	p.Publish(Event{Kind: KindLeft, Room: "r", PeerID: "a"})
	waitPublished(t, client)
	p.Publish(Event{Kind: KindLeft, Room: "r", PeerID: "b"})
	waitPublished(t, client)

	p.Close()
	p.Close()

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.disconnected {
		t.Fatalf("expected Disconnect on Close")
	}
	if len(client.messages) != 2 {
		t.Fatalf("messages=%d, want 2", len(client.messages))
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTPublisher(client, "p", discardLogger())
	p.Close()

	p.Publish(Event{Kind: KindJoined, Room: "r", PeerID: "a"})

	select {
	case <-client.got:
		t.Fatalf("unexpected publish after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Publish(Event{Kind: KindJoined, Room: "r", PeerID: "a"})
	r.Publish(Event{Kind: KindLeft, Room: "r", PeerID: "a"})

	got := r.Events()
	if len(got) != 2 || got[0].Kind != KindJoined || got[1].Kind != KindLeft {
		t.Fatalf("events=%+v", got)
	}
	got[0].Kind = "mutated"
	if r.Events()[0].Kind != KindJoined {
		t.Fatalf("Events must return a copy")
	}
	Nop{}.Publish(Event{})
}
