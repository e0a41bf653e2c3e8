package gmail

import (
	"context"
	"fmt"
	"time"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc = emaildomain.TokenUpdateFunc

type Service struct {
	clientID     string
	clientSecret string
	logger       *logrus.Logger
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
	logger   *logrus.Logger
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		// Block so the stored credentials never lag behind the token in use
		if err := s.callback(t); err != nil {
			s.logger.WithError(err).Warn("[Gmail] Failed to persist refreshed token")
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
	}
}

// Client creates a rate limited Gmail client with the user's tokens
func (s *Service) Client(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*Client, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	// Only force refresh if we have a refresh token
	if refreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	// Wrap token source to detect refreshes
	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
		logger:   s.logger,
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, wrappedSource)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return newClient(srv, s.logger), nil
}

func newClient(srv *gmail.Service, logger *logrus.Logger) *Client {
	return &Client{
		srv:     srv,
		user:    "me",
		limiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
		logger:  logger,
	}
}
