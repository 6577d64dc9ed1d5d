package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/middleware"
	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/observability"
	"github.com/noah-isme/unigigs-api/internal/realtime"
	"github.com/noah-isme/unigigs-api/internal/repository"
)

const (
	messageFeedName  = "messages"
	chatPingInterval = 30 * time.Second
	chatSnapshotType = "snapshot"
	chatErrorType    = "error"
	chatFrameMessage = "message"
	transportHTTP    = "http"
	transportSocket  = "websocket"
)

// ChatConn is the websocket surface used by ServeConnection.
type ChatConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	Actor       dto.Identity
	CommunityID string
	Trace       middleware.Trace
	Context     context.Context
}

// ChatService stores community messages and streams them to subscribers.
type ChatService interface {
	Send(ctx context.Context, actor dto.Identity, communityID string, req dto.MessageSendRequest) (dto.MessageResponse, error)
	History(ctx context.Context, actor dto.Identity, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error)
	Subscribe(ctx context.Context, actor dto.Identity, communityID string, fn func(dto.MessageSnapshot)) (*realtime.Subscription, error)
	// ServeConnection blocks until the client disconnects.
	ServeConnection(conn ChatConn, opts ChatConnectionOptions)
	Feed() *realtime.Feed[dto.MessageResponse]
}

type chatService struct {
	messages    repository.MessageRepository
	communities CommunityService
	feed        *realtime.Feed[dto.MessageResponse]
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewChatService creates the chat service with a message feed bound to bus.
func NewChatService(messages repository.MessageRepository, communities CommunityService, bus realtime.Bus, window int, validate *validator.Validate, logger zerolog.Logger) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	svc := &chatService{
		messages:    messages,
		communities: communities,
		validator:   validate,
		sanitizer:   sanitizer,
		logger:      logger.With().Str("component", "chat_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/unigigs-api/internal/service/chat"),
	}
	svc.feed = realtime.NewFeed[dto.MessageResponse](messageFeedName, window, svc.load, bus, logger)
	return svc
}

func (s *chatService) Feed() *realtime.Feed[dto.MessageResponse] {
	return s.feed
}

func (s *chatService) load(ctx context.Context, communityID string, window int) ([]dto.MessageResponse, error) {
	messages, err := s.messages.Latest(ctx, communityID, window)
	if err != nil {
		return nil, err
	}
	return dto.NewMessageResponseSlice(messages), nil
}

func (s *chatService) Send(ctx context.Context, actor dto.Identity, communityID string, req dto.MessageSendRequest) (dto.MessageResponse, error) {
	return s.send(ctx, actor, communityID, req, transportHTTP)
}

func (s *chatService) send(ctx context.Context, actor dto.Identity, communityID string, req dto.MessageSendRequest, transport string) (dto.MessageResponse, error) {
	community, err := s.communities.Authorize(ctx, actor, communityID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	req.Text = strings.TrimSpace(s.sanitizer.Sanitize(req.Text))
	req.ReplyToID = strings.TrimSpace(req.ReplyToID)
	if req.Text == "" {
		return dto.MessageResponse{}, ErrEmptyContent
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, validationError(err)
	}

	attrs := []attribute.KeyValue{
		attribute.String("chat.community_id", community.ID),
		attribute.String("chat.sender_id", actor.UID),
		attribute.String("chat.transport", transport),
	}
	if correlation := middleware.TraceFromContext(ctx).CorrelationID; correlation != "" {
		attrs = append(attrs, attribute.String("correlation_id", correlation))
	}
	ctx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(attrs...))
	defer span.End()

	message := models.Message{
		CommunityID: community.ID,
		Text:        req.Text,
		SenderID:    actor.UID,
		SenderName:  displayNameOr(actor.DisplayName, anonymousDisplayName),
		SenderPhoto: actor.PhotoURL,
	}

	if req.ReplyToID != "" {
		target, err := s.messages.FindByID(ctx, req.ReplyToID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dto.MessageResponse{}, ErrMessageNotFound
			}
			return dto.MessageResponse{}, fmt.Errorf("load reply target: %w", err)
		}
		if target.CommunityID != community.ID {
			return dto.MessageResponse{}, ErrMessageNotFound
		}
		message.ReplyToID = target.ID
		message.ReplyToText = target.Text
		message.ReplyToSenderName = target.SenderName
	}

	if err := s.messages.Create(ctx, &message); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, writeError("create message", err)
	}

	observability.ChatMessages().WithLabelValues(transport).Inc()
	s.feed.Notify(ctx, community.ID)

	return dto.NewMessageResponse(message), nil
}

func (s *chatService) History(ctx context.Context, actor dto.Identity, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, validationError(err)
	}
	if _, err := s.communities.Authorize(ctx, actor, query.CommunityID); err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit <= 0 || limit > s.feed.Window() {
		limit = s.feed.Window()
	}

	var (
		messages []models.Message
		err      error
	)
	if query.Before != nil {
		cursor := repository.MessageCursor{CreatedAt: *query.Before, ID: query.BeforeID}
		messages, err = s.messages.ListBefore(ctx, query.CommunityID, cursor, limit)
	} else {
		messages, err = s.messages.Latest(ctx, query.CommunityID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return dto.NewMessageResponseSlice(messages), nil
}

func (s *chatService) Subscribe(ctx context.Context, actor dto.Identity, communityID string, fn func(dto.MessageSnapshot)) (*realtime.Subscription, error) {
	community, err := s.communities.Authorize(ctx, actor, communityID)
	if err != nil {
		return nil, err
	}
	return s.feed.Subscribe(ctx, community.ID, func(messages []dto.MessageResponse) {
		fn(dto.MessageSnapshot{Type: chatSnapshotType, CommunityID: community.ID, Messages: messages})
	})
}

func (s *chatService) ServeConnection(conn ChatConn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	caller := opts.Trace
	if caller.UserID == "" {
		caller.UserID = opts.Actor.UID
	}
	ctx, cancel := context.WithCancel(middleware.WithTrace(baseCtx, caller))
	defer cancel()

	client := &chatClient{conn: conn, logger: caller.Logger(s.logger).With().
		Str("community_id", opts.CommunityID).
		Logger()}
	defer client.close()

	sub, err := s.Subscribe(ctx, opts.Actor, opts.CommunityID, func(snapshot dto.MessageSnapshot) {
		if err := client.write(snapshot); err != nil {
			client.logger.Debug().Err(err).Msg("chat snapshot write failed")
			cancel()
		}
	})
	if err != nil {
		_ = client.write(dto.ChatError{Type: chatErrorType, Message: publicMessage(err)})
		return
	}
	defer sub.Cancel()

	go client.keepAlive(ctx, cancel)

	for {
		var frame dto.ChatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			client.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}
		if ctx.Err() != nil {
			return
		}
		if frame.Type != "" && frame.Type != chatFrameMessage {
			_ = client.write(dto.ChatError{Type: chatErrorType, Message: "unsupported frame type"})
			continue
		}

		_, err := s.send(ctx, opts.Actor, opts.CommunityID, dto.MessageSendRequest{Text: frame.Text, ReplyToID: frame.ReplyToID}, transportSocket)
		if err != nil {
			client.logger.Warn().Err(err).Msg("failed to process chat frame")
			if werr := client.write(dto.ChatError{Type: chatErrorType, Message: publicMessage(err)}); werr != nil {
				return
			}
		}
	}
}

type chatClient struct {
	conn   ChatConn
	mu     sync.Mutex
	once   sync.Once
	logger zerolog.Logger
}

func (c *chatClient) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *chatClient) keepAlive(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(chatPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive"))
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("chat ping failed")
				cancel()
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *chatClient) close() {
	c.once.Do(func() {
		_ = c.conn.Close()
	})
}

// publicMessage returns the client-safe text of a service error.
func publicMessage(err error) string {
	for _, category := range []error{ErrValidation, ErrAuth, ErrNotFound, ErrForbidden, ErrConflict} {
		if errors.Is(err, category) {
			return err.Error()
		}
	}
	return "internal server error"
}
