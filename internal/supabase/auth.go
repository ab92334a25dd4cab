package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront/internal/model"
)

// authUser is the GoTrue user object.
type authUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

func (u authUser) toUser() *model.User {
	return userFromMetadata(u.ID, u.Email, u.Phone, u.UserMetadata, u.AppMetadata)
}

func userFromMetadata(id, email, phone string, userMeta, appMeta map[string]any) *model.User {
	user := &model.User{ID: id, Email: email, Phone: phone}
	if s, ok := userMeta["name"].(string); ok {
		user.Name = s
	}
	if s, ok := userMeta["phone"].(string); ok && user.Phone == "" {
		user.Phone = s
	}
	if s, ok := appMeta["role"].(string); ok {
		user.Role = s
	}
	return user
}

// authSession is the GoTrue token response. Sign-up returns it when email
// confirmation is off, otherwise a bare user.
type authSession struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	User         authUser `json:"user"`
}

func (s authSession) toSession(now time.Time) *model.AuthSession {
	expires := time.Unix(s.ExpiresAt, 0)
	if s.ExpiresAt == 0 {
		expires = now.Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return &model.AuthSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    expires,
		User:         *s.User.toUser(),
	}
}

// SignUp registers an account with attrs as user metadata, then copies name
// and phone to the profile row when a session came back.
func (c *Client) SignUp(ctx context.Context, email, password string, attrs map[string]any) (*model.User, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body: map[string]any{
			"email":    email,
			"password": password,
			"data":     attrs,
		},
		cred: asAnon,
	})
	if err != nil {
		return nil, err
	}

	var s authSession
	if err := resp.decode(&s); err != nil {
		return nil, err
	}
	if s.User.ID == "" {
		var u authUser
		if err := resp.decode(&u); err != nil {
			return nil, err
		}
		return u.toUser(), nil
	}

	user := s.User.toUser()
	if s.AccessToken != "" {
		profile := map[string]string{"name": user.Name, "phone": user.Phone}
		if _, err := c.do(ctx, request{
			method: http.MethodPatch,
			path:   rest(tableProfiles),
			query:  url.Values{"id": {eq(user.ID)}},
			body:   profile,
			token:  s.AccessToken,
			header: preferMinimal,
		}); err != nil {
			c.logger.Warn("profile update after sign-up failed", "user", user.ID, "error", err)
		}
	}
	return user, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*model.AuthSession, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
		cred:   asAnon,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidRequest) {
			return nil, model.NewUnauthorizedError("invalid email or password")
		}
		return nil, err
	}
	var s authSession
	if err := resp.decode(&s); err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, model.NewUnauthorizedError("no session returned")
	}
	return s.toSession(c.now()), nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/logout",
		token:  accessToken,
	})
	return err
}

// GetUser verifies accessToken locally when a JWT secret is configured,
// otherwise asks the auth server.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	if accessToken == "" {
		return nil, model.NewUnauthorizedError("missing access token")
	}
	if c.verifier != nil {
		return c.verifier.Verify(accessToken)
	}
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/auth/v1/user",
		token:  accessToken,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidRequest) || errors.Is(err, model.ErrNotFound) {
			return nil, model.NewUnauthorizedError("invalid access token")
		}
		return nil, err
	}
	var u authUser
	if err := resp.decode(&u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, model.NewUnauthorizedError("invalid access token")
	}
	return u.toUser(), nil
}

// UpdatePassword changes the password of the account behind accessToken.
// A password the auth server refuses comes back as a validation error.
func (c *Client) UpdatePassword(ctx context.Context, accessToken, password string) error {
	if accessToken == "" {
		return model.NewUnauthorizedError("missing access token")
	}
	_, err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/auth/v1/user",
		body:   map[string]string{"password": password},
		token:  accessToken,
	})
	return err
}

// TokenVerifier checks Supabase access tokens (HS256, audience
// "authenticated") against the project JWT secret.
type TokenVerifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// Claims is the access token payload.
type Claims struct {
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
	jwt.RegisteredClaims
}

func NewTokenVerifier(secret string, opts ...jwt.ParserOption) *TokenVerifier {
	base := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience("authenticated"),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	return &TokenVerifier{secret: []byte(secret), opts: append(base, opts...)}
}

// Verify parses token and returns the user it names.
func (v *TokenVerifier) Verify(token string) (*model.User, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.NewUnauthorizedError("session expired, please sign in again")
		}
		return nil, model.NewUnauthorizedError(fmt.Sprintf("invalid access token: %v", err))
	}
	if claims.Subject == "" {
		return nil, model.NewUnauthorizedError("access token has no subject")
	}
	return userFromMetadata(claims.Subject, claims.Email, claims.Phone, claims.UserMetadata, claims.AppMetadata), nil
}
