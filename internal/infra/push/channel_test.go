package push_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/infra/push"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

// fakePushServer upgrades, waits for the subscribe message and then sends
// the given events.
func fakePushServer(t *testing.T, events []domain.PushEvent) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub["action"] != "subscribe" || sub["organization_id"] != "org-1" {
			t.Errorf("unexpected subscribe message: %v", sub)
		}

		for _, ev := range events {
			data, _ := json.Marshal(ev)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestChannel_DeliversTypedEvents(t *testing.T) {
	srv := fakePushServer(t, []domain.PushEvent{
		{Type: domain.EventPermissionsUpdated, OrganizationID: "org-1"},
		{Type: domain.EventPaymentUpdated},
	})
	defer srv.Close()

	ch := push.NewChannel(wsURL(srv), "org-1", func() string { return "tok" }, nil, zap.NewNop())

	received := make(chan domain.PushEvent, 4)
	unsubscribe := ch.Subscribe(func(ev domain.PushEvent) { received <- ev })
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	go ch.Run(ctx)
	defer func() {
		cancel()
		ch.Close()
	}()

	var got []domain.PushEvent
	for len(got) < 2 {
		select {
		case ev := <-received:
			got = append(got, ev)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, received %d events", len(got))
		}
	}

	if got[0].Type != domain.EventPermissionsUpdated {
		t.Errorf("expected permissions-updated first, got %s", got[0].Type)
	}
	if got[1].Type != domain.EventPaymentUpdated {
		t.Errorf("expected payment-updated second, got %s", got[1].Type)
	}
}

func TestChannel_UnsubscribeStopsDelivery(t *testing.T) {
	srv := fakePushServer(t, []domain.PushEvent{
		{Type: domain.EventPermissionsUpdated, OrganizationID: "org-1"},
	})
	defer srv.Close()

	ch := push.NewChannel(wsURL(srv), "org-1", nil, nil, zap.NewNop())

	received := make(chan domain.PushEvent, 1)
	unsubscribe := ch.Subscribe(func(ev domain.PushEvent) { received <- ev })
	unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	go ch.Run(ctx)
	defer func() {
		cancel()
		ch.Close()
	}()

	select {
	case ev := <-received:
		t.Fatalf("expected no delivery after unsubscribe, got %s", ev.Type)
	case <-time.After(500 * time.Millisecond):
	}
}
