package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"golang.org/x/oauth2"

	"github.com/agentbridge/control-plane/internal/apierr"
)

// OAuth2Config is the static per-resource-server configuration an
// OAuth2AuthorizationCodeBroker needs: client credentials, endpoint URLs,
// and the redirect URI registered with the IdP.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

func (c OAuth2Config) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
	}
}

// oauthToken is what gets stored as a UserCredential's plaintext value: the
// token plus enough of the endpoint config to refresh it later.
type oauthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// OAuth2AuthorizationCodeBroker implements the OAuth2 authorization-code
// grant (optionally with PKCE) as a credential.Broker (spec.md §4.C).
// ConfigFor resolves per-call config from the resource server credential it
// is handed, so one broker instance serves every resource server of this
// deployment type.
type OAuth2AuthorizationCodeBroker struct {
	ConfigFor func(ResourceServerCredential) (OAuth2Config, error)
	UsePKCE   bool
}

var _ Broker = (*OAuth2AuthorizationCodeBroker)(nil)

// Start redirects the end user to the IdP's authorization endpoint.
// state_id doubles as the OAuth2 `state` query parameter — the IdP's
// callback hands it straight back, which is how resume() finds the right
// BrokerState row.
func (b *OAuth2AuthorizationCodeBroker) Start(_ context.Context, resourceServerCred ResourceServerCredential) (Action, Outcome, error) {
	cfg, err := b.ConfigFor(resourceServerCred)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.InvalidParams, "resolve oauth2 config", err)
	}

	stateID := randomURLSafeID(32)
	metadata := map[string]string{}

	var opts []oauth2.AuthCodeOption
	if b.UsePKCE {
		verifier := oauth2.GenerateVerifier()
		metadata["code_verifier"] = verifier
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	url := cfg.oauth2Config().AuthCodeURL(stateID, opts...)
	return RedirectAction{URL: url}, ContinueOutcome{StateID: stateID, StateMetadata: metadata}, nil
}

// Resume exchanges the authorization code delivered via input for an access
// token.
func (b *OAuth2AuthorizationCodeBroker) Resume(ctx context.Context, state BrokerState, input Input, resourceServerCred ResourceServerCredential) (Action, Outcome, error) {
	cfg, err := b.ConfigFor(resourceServerCred)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.InvalidParams, "resolve oauth2 config", err)
	}
	conf := cfg.oauth2Config()

	var opts []oauth2.AuthCodeOption
	var code string
	switch in := input.(type) {
	case OAuth2AuthorizationCodeInput:
		code = in.Code
	case OAuth2AuthorizationCodeWithPKCEInput:
		code = in.Code
		opts = append(opts, oauth2.VerifierOption(in.CodeVerifier))
	default:
		return nil, nil, apierr.New(apierr.InvalidParams, "unsupported input for oauth2 authorization-code broker")
	}

	if b.UsePKCE {
		verifier, ok := state.Metadata["code_verifier"]
		if !ok {
			return nil, nil, apierr.New(apierr.Internal, "broker state missing code_verifier for a PKCE flow")
		}
		opts = []oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}
	}

	tok, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Network, "exchange oauth2 authorization code", err)
	}

	value, err := json.Marshal(oauthToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Internal, "marshal oauth2 token", err)
	}

	return NoAction{}, SuccessOutcome{
		UserCredentialTypeID: "oauth2_token",
		UserCredentialValue:  value,
	}, nil
}

// Rotate refreshes an OAuth2 token using its stored refresh token. It
// implements the Rotatable capability the rotation loop (component D)
// looks for.
func (b *OAuth2AuthorizationCodeBroker) Rotate(ctx context.Context, current UserCredential, plaintext []byte, resourceServerCred ResourceServerCredential) ([]byte, time.Time, error) {
	var tok oauthToken
	if err := json.Unmarshal(plaintext, &tok); err != nil {
		return nil, time.Time{}, apierr.Wrap(apierr.Internal, "unmarshal stored oauth2 token", err)
	}
	if tok.RefreshToken == "" {
		return nil, time.Time{}, apierr.New(apierr.InvalidParams, "oauth2 token has no refresh_token to rotate with")
	}

	cfg, err := b.ConfigFor(resourceServerCred)
	if err != nil {
		return nil, time.Time{}, apierr.Wrap(apierr.InvalidParams, "resolve oauth2 config", err)
	}

	src := cfg.oauth2Config().TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	refreshed, err := src.Token()
	if err != nil {
		return nil, time.Time{}, apierr.Wrap(apierr.Network, "refresh oauth2 token", err)
	}

	value, err := json.Marshal(oauthToken{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		TokenType:    refreshed.TokenType,
		Expiry:       refreshed.Expiry,
	})
	if err != nil {
		return nil, time.Time{}, apierr.Wrap(apierr.Internal, "marshal refreshed oauth2 token", err)
	}
	return value, refreshed.Expiry, nil
}

func randomURLSafeID(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
