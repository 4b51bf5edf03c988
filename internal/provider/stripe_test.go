package provider

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vendora/webhook-engine/internal/models"
	"github.com/vendora/webhook-engine/internal/signature"
)

// fakeIngester records CreateEvent calls instead of touching a database.
type fakeIngester struct {
	events []*models.WebhookEvent
	err    error
}

func (f *fakeIngester) CreateEvent(eventType string, data any, source string) (*models.WebhookEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	event := &models.WebhookEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
	f.events = append(f.events, event)
	return event, nil
}

func signedHeader(body []byte, secret string) string {
	return fmt.Sprintf("t=%d,v1=%s", time.Now().Unix(), signature.Sign(body, secret))
}

func TestHandleCallbackCreatesNamespacedEvent(t *testing.T) {
	ingester := &fakeIngester{}
	gateway := NewStripeGateway(ingester, "stripe_test_secret", zap.NewNop())

	body := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"amount":1500}}`)
	event, err := gateway.HandleCallback(body, signedHeader(body, "stripe_test_secret"))
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if event.Type != "stripe.payment_intent.succeeded" {
		t.Errorf("event type = %q, want stripe.payment_intent.succeeded", event.Type)
	}
	if event.Source != models.SourceStripe {
		t.Errorf("event source = %q, want stripe", event.Source)
	}
	if len(ingester.events) != 1 {
		t.Errorf("ingested %d events, want 1", len(ingester.events))
	}
}

func TestHandleCallbackRunsSideEffectSynchronously(t *testing.T) {
	ingester := &fakeIngester{}
	gateway := NewStripeGateway(ingester, "stripe_test_secret", zap.NewNop())

	var handled []string
	gateway.On("payment_intent.succeeded", func(ev StripeEvent) error {
		handled = append(handled, ev.ID)
		return nil
	})

	body := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{}}`)
	if _, err := gateway.HandleCallback(body, signedHeader(body, "stripe_test_secret")); err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if len(handled) != 1 || handled[0] != "evt_123" {
		t.Errorf("handler saw %v, want [evt_123]", handled)
	}
}

func TestHandleCallbackSurfacesSideEffectFailure(t *testing.T) {
	ingester := &fakeIngester{}
	gateway := NewStripeGateway(ingester, "stripe_test_secret", zap.NewNop())

	boom := errors.New("ledger write failed")
	gateway.On("charge.refunded", func(StripeEvent) error { return boom })

	body := []byte(`{"id":"evt_9","type":"charge.refunded","data":{}}`)
	_, err := gateway.HandleCallback(body, signedHeader(body, "stripe_test_secret"))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want the handler failure", err)
	}
	// The event was already ingested before the side effect ran.
	if len(ingester.events) != 1 {
		t.Errorf("ingested %d events, want 1", len(ingester.events))
	}
}

func TestHandleCallbackRejectsMissingSignature(t *testing.T) {
	gateway := NewStripeGateway(&fakeIngester{}, "stripe_test_secret", zap.NewNop())

	cases := map[string]string{
		"empty header": "",
		"no v1 part":   "t=1712000000",
		"empty v1":     "t=1712000000,v1=",
	}
	for name, header := range cases {
		_, err := gateway.HandleCallback([]byte(`{"type":"x"}`), header)
		if !errors.Is(err, ErrMissingSignature) {
			t.Errorf("%s: err = %v, want ErrMissingSignature", name, err)
		}
	}
}

func TestHandleCallbackRejectsTamperedBody(t *testing.T) {
	ingester := &fakeIngester{}
	gateway := NewStripeGateway(ingester, "stripe_test_secret", zap.NewNop())

	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"amount":100}}`)
	header := signedHeader(body, "stripe_test_secret")
	tampered := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"amount":999}}`)

	_, err := gateway.HandleCallback(tampered, header)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
	if len(ingester.events) != 0 {
		t.Error("no event may be created for a rejected callback")
	}
}

func TestHandleCallbackRejectsWrongSecret(t *testing.T) {
	gateway := NewStripeGateway(&fakeIngester{}, "stripe_test_secret", zap.NewNop())

	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{}}`)
	_, err := gateway.HandleCallback(body, signedHeader(body, "another_secret"))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestHandleCallbackRejectsMalformedBody(t *testing.T) {
	ingester := &fakeIngester{}
	gateway := NewStripeGateway(ingester, "stripe_test_secret", zap.NewNop())

	body := []byte(`not json`)
	if _, err := gateway.HandleCallback(body, signedHeader(body, "stripe_test_secret")); err == nil {
		t.Error("expected an error for an unparseable body")
	}

	body = []byte(`{"id":"evt_1","data":{}}`)
	if _, err := gateway.HandleCallback(body, signedHeader(body, "stripe_test_secret")); err == nil {
		t.Error("expected an error for a body without a type")
	}
	if len(ingester.events) != 0 {
		t.Error("no event may be created for a rejected callback")
	}
}
