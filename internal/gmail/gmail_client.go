package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"aiva/internal/logger"
	"aiva/internal/model"
	"aiva/internal/repository"
	"aiva/internal/service"
)

const user = "me"

type gmailClient struct {
	oauth          *oauth2.Config
	connectionRepo repository.ConnectionRepository
	limiter        *rate.Limiter
	apiOptions     []option.ClientOption
	logger         *logger.Logger
}

// OAuthConfig is the Google OAuth client used both for the mailbox connect
// flow and for refreshing stored tokens.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"email", "profile", gmail.GmailModifyScope},
	}
}

// NewChannelClient builds the Gmail channel. Calls to the Gmail API are
// throttled to requestsPerSecond across all connections.
func NewChannelClient(oauthConfig *oauth2.Config, connectionRepo repository.ConnectionRepository, requestsPerSecond float64, logger *logger.Logger) service.ChannelClient {
	return newGmailClient(oauthConfig, connectionRepo, requestsPerSecond, logger)
}

func newGmailClient(oauthConfig *oauth2.Config, connectionRepo repository.ConnectionRepository, requestsPerSecond float64, logger *logger.Logger, apiOptions ...option.ClientOption) *gmailClient {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &gmailClient{
		oauth:          oauthConfig,
		connectionRepo: connectionRepo,
		limiter:        rate.NewLimiter(limit, burst),
		apiOptions:     apiOptions,
		logger:         logger,
	}
}

// GetAccessToken returns a valid access token for the connection, refreshing
// and persisting it when the stored one has expired. Concurrent refreshes are
// harmless; the last write wins.
func (g *gmailClient) GetAccessToken(ctx context.Context, connectionID string) (string, error) {
	conn, err := g.connectionRepo.FindByID(ctx, connectionID)
	if err != nil {
		return "", err
	}

	stored := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.TokenExpiry,
		TokenType:    "Bearer",
	}
	fresh, err := g.oauth.TokenSource(ctx, stored).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// The grant was revoked or expired; the mailbox must be reconnected.
			if statusErr := g.connectionRepo.UpdateStatus(ctx, conn.ID, model.ConnectionStatusError); statusErr != nil {
				g.logger.Warn("Failed to flag connection after refresh error:", conn.ID, statusErr)
			}
		}
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if fresh.AccessToken != conn.AccessToken {
		if err := g.connectionRepo.UpdateTokens(ctx, conn.ID, fresh.AccessToken, fresh.Expiry); err != nil {
			g.logger.Warn("Failed to persist refreshed token:", conn.ID, err)
		}
		g.logger.Info("Refreshed access token for connection:", conn.ID)
	}
	return fresh.AccessToken, nil
}

func (g *gmailClient) service(ctx context.Context, token string) (*gmail.Service, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})),
	}, g.apiOptions...)
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return srv, nil
}

func (g *gmailClient) ListMessages(ctx context.Context, token string, opts model.ListOptions) (*model.MessageList, error) {
	srv, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}

	call := srv.Users.Messages.List(user).Context(ctx)
	if opts.MaxResults > 0 {
		call = call.MaxResults(opts.MaxResults)
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	if opts.Query != "" {
		call = call.Q(opts.Query)
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	list := &model.MessageList{
		Refs:          make([]model.MessageRef, 0, len(res.Messages)),
		NextPageToken: res.NextPageToken,
	}
	for _, m := range res.Messages {
		list.Refs = append(list.Refs, model.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return list, nil
}

func (g *gmailClient) GetMessage(ctx context.Context, token, messageID string) (*model.RawMessage, error) {
	srv, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}

	message, err := srv.Users.Messages.Get(user, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return toRawMessage(message), nil
}

func toRawMessage(message *gmail.Message) *model.RawMessage {
	raw := &model.RawMessage{
		ID:         message.Id,
		ThreadID:   message.ThreadId,
		LabelIDs:   message.LabelIds,
		Headers:    map[string]string{},
		Snippet:    message.Snippet,
		ReceivedAt: time.UnixMilli(message.InternalDate),
	}
	if message.Payload == nil {
		return raw
	}
	for _, header := range message.Payload.Headers {
		if _, exists := raw.Headers[header.Name]; !exists {
			raw.Headers[header.Name] = header.Value
		}
	}
	raw.TextBody, raw.HTMLBody = extractBodies(message.Payload)
	return raw
}

// extractBodies walks the MIME tree and returns the first text/plain and
// text/html parts.
func extractBodies(part *gmail.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		switch {
		case strings.HasPrefix(part.MimeType, "text/plain"):
			text = decodeBody(part.Body.Data)
		case strings.HasPrefix(part.MimeType, "text/html"):
			html = decodeBody(part.Body.Data)
		}
	}
	for _, child := range part.Parts {
		t, h := extractBodies(child)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
		if text != "" && html != "" {
			break
		}
	}
	return text, html
}

func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// SendReply composes a text/plain reply carrying the threading headers and
// sends it into the original Gmail thread.
func (g *gmailClient) SendReply(ctx context.Context, token string, req *model.SendReplyRequest) (*model.SendReplyResult, error) {
	raw, err := buildRawReply(req, time.Now())
	if err != nil {
		return nil, err
	}

	srv, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}
	sent, err := srv.Users.Messages.Send(user, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: req.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to send reply: %w", err)
	}

	g.logger.Info("Sent reply in thread:", req.ThreadID, "message:", sent.Id)
	return &model.SendReplyResult{Success: true, MessageID: sent.Id}, nil
}

func buildRawReply(req *model.SendReplyRequest, date time.Time) ([]byte, error) {
	if len(req.To) == 0 {
		return nil, fmt.Errorf("reply has no recipients")
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: req.From}})
	to := make([]*mail.Address, 0, len(req.To))
	for _, addr := range req.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	h.SetSubject(req.Subject)
	if req.InReplyTo != "" {
		h.Set("In-Reply-To", req.InReplyTo)
	}
	if req.References != "" {
		h.Set("References", req.References)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, req.Body); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

// ApplyLabel adds the named user label to a message, creating the label on
// first use.
func (g *gmailClient) ApplyLabel(ctx context.Context, token, messageID, label string) error {
	srv, err := g.service(ctx, token)
	if err != nil {
		return err
	}

	labelID, err := g.findOrCreateLabel(ctx, srv, label)
	if err != nil {
		return err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = srv.Users.Messages.Modify(user, messageID, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to apply label: %w", err)
	}
	return nil
}

func (g *gmailClient) findOrCreateLabel(ctx context.Context, srv *gmail.Service, name string) (string, error) {
	labels, err := srv.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to list labels: %w", err)
	}
	for _, l := range labels.Labels {
		if strings.EqualFold(l.Name, name) {
			return l.Id, nil
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	created, err := srv.Users.Labels.Create(user, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create label %s: %w", name, err)
	}
	g.logger.Info("Created Gmail label:", name)
	return created.Id, nil
}
