package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

type Stripe struct {
	api           *client.API
	webhookSecret string
}

var _ Provider = (*Stripe)(nil)

type StripeOption func(*stripeConfig)

type stripeConfig struct {
	url        string
	httpClient *http.Client
}

// WithAPIURL points the client at a different API base, e.g. stripe-mock.
func WithAPIURL(u string) StripeOption {
	return func(c *stripeConfig) { c.url = u }
}

func WithHTTPClient(hc *http.Client) StripeOption {
	return func(c *stripeConfig) { c.httpClient = hc }
}

func NewStripe(secretKey, webhookSecret string, opts ...StripeOption) (*Stripe, error) {
	if secretKey == "" {
		return nil, xerrors.New("payments: stripe secret key is required")
	}
	if webhookSecret == "" {
		return nil, xerrors.New("payments: stripe webhook secret is required")
	}
	var sc stripeConfig
	for _, o := range opts {
		o(&sc)
	}

	var backends *stripe.Backends
	if sc.url != "" || sc.httpClient != nil {
		bc := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(2)}
		if sc.url != "" {
			bc.URL = stripe.String(sc.url)
		}
		if sc.httpClient != nil {
			bc.HTTPClient = sc.httpClient
		}
		b := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}
	return &Stripe{api: client.New(secretKey, backends), webhookSecret: webhookSecret}, nil
}

func (s *Stripe) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (Intent, error) {
	if amountCents <= 0 {
		return Intent{}, xerrors.Newf("payments: amount must be positive, got %d", amountCents)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if id := metadata[MetadataOrderID]; id != "" {
		// retries of the same order reuse the intent
		params.SetIdempotencyKey("order-" + id)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, xerrors.Wrap(err, "payments: create intent")
	}
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (s *Stripe) VerifyWebhook(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	out := Event{ID: ev.ID, Type: string(ev.Type)}
	switch ev.Type {
	case "payment_intent.succeeded":
		out.Kind = EventSucceeded
	case "payment_intent.payment_failed":
		out.Kind = EventFailed
	default:
		return out, nil
	}

	if ev.Data == nil {
		return Event{}, fmt.Errorf("%w: no data object", ErrPayload)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	out.IntentID = pi.ID
	out.Metadata = pi.Metadata
	return out, nil
}
