package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"dialdesk/internal/config"
	"dialdesk/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// OAuth wraps the external identity provider. Only the pieces the login flow
// needs: authorize redirect with a one-time state nonce, code exchange, and
// the userinfo fetch that yields a stable external id + email + name.
type OAuth struct {
	cfg         *oauth2.Config
	userinfoURL string
	rdb         *redis.Client
	stateTTL    time.Duration
}

var ErrBadState = errors.New("auth: unknown or expired oauth state")

func NewOAuth(cfg config.OAuthConfig, rdb *redis.Client) *OAuth {
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userinfoURL: cfg.UserinfoURL,
		rdb:         rdb,
		stateTTL:    10 * time.Minute,
	}
}

// UserInfo is the subset of the provider's userinfo response we keep.
type UserInfo struct {
	ProviderID string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
}

// LoginURL stashes a fresh state nonce and returns the authorize redirect.
func (o *OAuth) LoginURL(ctx context.Context) (string, error) {
	state := uuid.NewString()
	if err := utils.StashState(ctx, o.rdb, stateKey(state), "1", o.stateTTL); err != nil {
		return "", fmt.Errorf("oauth state stash: %w", err)
	}
	return o.cfg.AuthCodeURL(state), nil
}

// Exchange validates the returned state, trades the code for a token and
// fetches userinfo.
func (o *OAuth) Exchange(ctx context.Context, state, code string) (UserInfo, error) {
	if state == "" || code == "" {
		return UserInfo{}, ErrBadState
	}
	_, ok, err := utils.ConsumeState(ctx, o.rdb, stateKey(state))
	if err != nil {
		return UserInfo{}, fmt.Errorf("oauth state lookup: %w", err)
	}
	if !ok {
		return UserInfo{}, ErrBadState
	}

	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return UserInfo{}, fmt.Errorf("oauth exchange: %w", err)
	}
	return o.fetchUserinfo(ctx, tok)
}

func (o *OAuth) fetchUserinfo(ctx context.Context, tok *oauth2.Token) (UserInfo, error) {
	client := o.cfg.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userinfoURL, nil)
	if err != nil {
		return UserInfo{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("userinfo fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return UserInfo{}, fmt.Errorf("userinfo status %d: %s", resp.StatusCode, string(body))
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return UserInfo{}, fmt.Errorf("userinfo decode: %w", err)
	}
	if info.ProviderID == "" || info.Email == "" {
		return UserInfo{}, errors.New("userinfo missing sub or email")
	}
	return info, nil
}

func stateKey(state string) string {
	return "oauth:state:" + state
}
