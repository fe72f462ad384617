// Package auth signs in to the model platform with user credentials and
// keeps the access token fresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/clinlp/medspan/internal/logging"
)

const (
	// ExpiryLeeway is how long before expiry an access token is refreshed.
	ExpiryLeeway = 180 * time.Second
	// RefreshTokenLifetime is how long a refresh token is trusted before
	// signing in again with the password grant.
	RefreshTokenLifetime = 6 * 24 * time.Hour
)

// ErrMissingCredentials is returned when the user key or secret is empty.
var ErrMissingCredentials = errors.New("user key and secret are required")

// Config describes the platform account.
type Config struct {
	BaseURL    string
	UserKey    string
	UserSecret string
	Scope      string
	// HTTPClient is used for token requests.
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Connection is an oauth2.TokenSource for one platform account. It is
// safe for concurrent use.
type Connection struct {
	conf   *oauth2.Config
	ctx    context.Context
	user   string
	secret string
	logger logrus.FieldLogger

	mu     sync.Mutex
	src    oauth2.TokenSource
	signIn time.Time
	now    func() time.Time
}

// Connect signs in with the password grant against BaseURL/token.
func Connect(ctx context.Context, c Config) (*Connection, error) {
	if c.UserKey == "" || c.UserSecret == "" {
		return nil, ErrMissingCredentials
	}

	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(c.BaseURL, "/") + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if c.Scope != "" {
		conf.Scopes = strings.Fields(c.Scope)
	}

	if c.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	}

	conn := &Connection{
		conf:   conf,
		ctx:    context.WithoutCancel(ctx),
		user:   c.UserKey,
		secret: c.UserSecret,
		logger: logging.OrDiscard(c.Logger),
		now:    time.Now,
	}
	if err := conn.init(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// init runs the password grant and starts a new refresh chain.
func (c *Connection) init(ctx context.Context) error {
	tok, err := c.conf.PasswordCredentialsToken(ctx, c.user, c.secret)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	c.src = oauth2.ReuseTokenSourceWithExpiry(tok, &refresher{conf: c.conf, ctx: c.ctx, token: tok.RefreshToken}, ExpiryLeeway)
	c.signIn = c.now()
	c.logger.WithField("expires", tok.Expiry).Debug("signed in to platform")
	return nil
}

// Token returns a valid access token, refreshing or signing in again as
// needed.
func (c *Connection) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.now().Sub(c.signIn) > RefreshTokenLifetime {
		c.logger.Debug("refresh token too old, signing in again")
		if err := c.init(c.ctx); err != nil {
			return nil, err
		}
	}
	tok, err := c.src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return tok, nil
}

// AuthHeader returns the Authorization header value.
func (c *Connection) AuthHeader() (string, error) {
	tok, err := c.Token()
	if err != nil {
		return "", err
	}
	return tok.Type() + " " + tok.AccessToken, nil
}

// HTTPClient returns a copy of base that adds the access token to every
// request. A nil base uses http.DefaultClient.
func (c *Connection) HTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	out := *base
	out.Transport = &oauth2.Transport{Source: c, Base: base.Transport}
	return &out
}

// refresher exchanges the refresh token on every call. Reuse and expiry
// are handled by the wrapping token source.
type refresher struct {
	conf  *oauth2.Config
	ctx   context.Context
	token string
}

func (r *refresher) Token() (*oauth2.Token, error) {
	tok, err := r.conf.TokenSource(r.ctx, &oauth2.Token{RefreshToken: r.token}).Token()
	if err != nil {
		return nil, err
	}
	r.token = tok.RefreshToken
	return tok, nil
}
