package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v76"
)

func fakeStripe(t *testing.T, handler http.HandlerFunc) *StripeProcessor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	return newStripeProcessor("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestCreateIntent(t *testing.T) {
	p := fakeStripe(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "copay-appt-1" {
			t.Errorf("expected idempotency key, got %q", r.Header.Get("Idempotency-Key"))
		}
		_ = r.ParseForm()
		if r.PostForm.Get("amount") != "2500" || r.PostForm.Get("currency") != "usd" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		if r.PostForm.Get("metadata[appointment_id]") != "appt-1" {
			t.Errorf("missing metadata: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","amount":2500,"currency":"usd","status":"requires_payment_method","client_secret":"pi_1_secret"}`))
	})

	intent, err := p.CreateIntent(context.Background(), CreateIntentRequest{
		AmountCents:    2500,
		IdempotencyKey: "copay-appt-1",
		Metadata:       map[string]string{"appointment_id": "appt-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ID != "pi_1" || intent.ClientSecret != "pi_1_secret" || intent.AmountCents != 2500 {
		t.Errorf("unexpected intent %+v", intent)
	}
	if intent.Succeeded() {
		t.Error("new intent must not be succeeded")
	}
}

func TestGetIntent(t *testing.T) {
	p := fakeStripe(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/payment_intents/pi_1") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","amount":2500,"currency":"usd","status":"succeeded"}`))
	})

	intent, err := p.GetIntent(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !intent.Succeeded() {
		t.Errorf("expected succeeded, got %s", intent.Status)
	}
}

func TestCreateIntent_StripeError(t *testing.T) {
	p := fakeStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","message":"Your card was declined."}}`))
	})
	if _, err := p.CreateIntent(context.Background(), CreateIntentRequest{AmountCents: 100}); err == nil {
		t.Fatal("expected error")
	}
}

func TestProcessor_NotConfigured(t *testing.T) {
	p := NewStripeProcessor("")
	if _, err := p.CreateIntent(context.Background(), CreateIntentRequest{AmountCents: 100}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := p.GetIntent(context.Background(), "pi_1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCreateIntent_RejectsNonPositive(t *testing.T) {
	p := NewStripeProcessor("sk_test_123")
	if _, err := p.CreateIntent(context.Background(), CreateIntentRequest{AmountCents: 0}); err == nil {
		t.Error("expected error for zero amount")
	}
}
