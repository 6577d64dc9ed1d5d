package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	webpushgo "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
)

// ErrSubscriptionGone is returned when the push service reports the endpoint
// as expired; the caller should forget the subscription.
var ErrSubscriptionGone = errors.New("push subscription gone")

// Config holds the VAPID credentials of the application server.
type Config struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
	TTL        int
}

// Subscription is the browser push endpoint and its encryption keys.
type Subscription struct {
	Endpoint string
	Auth     string
	P256dh   string
}

// Message is the notification shown by the service worker.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Link  string `json:"link,omitempty"`
}

// Sender delivers web push messages signed with VAPID keys.
type Sender struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

// New constructs a sender. It fails when the VAPID key pair is incomplete.
func New(cfg Config, logger zerolog.Logger) (*Sender, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("vapid key pair must be provided")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30
	}
	return &Sender{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.With().Str("component", "webpush").Logger(),
	}, nil
}

// WithHTTPClient overrides the client used to reach push services.
func (s *Sender) WithHTTPClient(client *http.Client) *Sender {
	s.client = client
	return s
}

// PublicKey returns the VAPID public key clients subscribe with.
func (s *Sender) PublicKey() string {
	return s.cfg.PublicKey
}

// Send pushes {"notification": {title, body}} to one subscription.
func (s *Sender) Send(ctx context.Context, sub Subscription, msg Message) error {
	payload, err := json.Marshal(map[string]Message{"notification": msg})
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := webpushgo.SendNotification(payload, &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpushgo.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpushgo.Options{
		HTTPClient:      contextClient{ctx: ctx, client: s.client},
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             s.cfg.TTL,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service responded %d", resp.StatusCode)
	}

	s.logger.Debug().Int("status", resp.StatusCode).Msg("push delivered")
	return nil
}

// contextClient binds the caller's context to the request webpush-go builds.
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}
