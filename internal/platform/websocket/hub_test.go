package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/db"
)

func newClient(tenant string, topics ...string) *Client {
	return &Client{ID: tenant + "-" + strings.Join(topics, "+"), Tenant: tenant, Topics: topics, Send: make(chan []byte, 4)}
}

func received(c *Client) []Event {
	var out []Event
	for {
		select {
		case data := <-c.Send:
			var ev Event
			_ = json.Unmarshal(data, &ev)
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_PublishIsTenantScoped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	north := newClient("north", "calendar")
	south := newClient("south", "calendar")
	hub.Register(north)
	hub.Register(south)

	_ = hub.Publish(context.Background(), Event{Type: "appointment.booked", Tenant: "north", Topic: "calendar"})

	if got := received(north); len(got) != 1 || got[0].Type != "appointment.booked" {
		t.Errorf("expected north to receive the event, got %v", got)
	}
	if got := received(south); len(got) != 0 {
		t.Errorf("south received another tenant's event: %v", got)
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("north")
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{"clinician/a", "clinician/b"}})
	if hub.TopicCount("north", "clinician/a") != 1 || hub.TopicCount("north", "clinician/b") != 1 {
		t.Fatal("expected both subscriptions")
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{"clinician/a"}})
	if hub.TopicCount("north", "clinician/a") != 0 {
		t.Error("expected clinician/a dropped")
	}
	if len(c.Topics) != 1 || c.Topics[0] != "clinician/b" {
		t.Errorf("unexpected topics %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "shout", Topics: []string{"x"}})
	if hub.TopicCount("north", "x") != 0 {
		t.Error("unknown action should be ignored")
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("north", "calendar")
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)

	if hub.ClientCount() != 0 || hub.TopicCount("north", "calendar") != 0 {
		t.Error("expected client fully removed")
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected send channel closed")
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("north", "calendar")
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(c.Send)+3; i++ {
			_ = hub.Publish(context.Background(), Event{Tenant: "north", Topic: "calendar"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full client buffer")
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}
	if !originChecker([]string{"*"})(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Error("wildcard should allow any origin")
	}
}

func newTestServer(t *testing.T, hub *Hub, roles ...string) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := db.WithTenant(c.Request().Context(), "north", nil)
			ctx = auth.WithIdentity(ctx, "staff-1", roles...)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(hub, []string{"*"}).RegisterRoutes(e.Group("/api/v1"))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_ConnectReceivesEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newTestServer(t, hub, auth.RoleFrontDesk)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?topics=calendar"
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("north", "calendar") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = hub.Publish(context.Background(), Event{Type: "appointment.cancelled", Tenant: "north", Topic: "calendar", ResourceID: "a-1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != "appointment.cancelled" || ev.ResourceID != "a-1" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHandler_ClientRoleForbidden(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newTestServer(t, hub, auth.RoleClient)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}
