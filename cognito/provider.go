package cognito

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	cip "github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"
	"github.com/stellarion/api/identity"
	"go.uber.org/zap"
)

// BackendConfig holds the user pool client settings
type BackendConfig struct {
	Region       string
	UserPoolID   string
	ClientID     string
	ClientSecret string

	// Static credentials are optional; the default AWS chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// Backend is shared by every browser context. It holds the pool client and the
// token verifier; Client hands out per-context providers.
type Backend struct {
	api          cognitoidentityprovideriface.CognitoIdentityProviderAPI
	verifier     TokenVerifier
	clientID     string
	clientSecret string
	logger       *zap.Logger
}

// NewBackend creates a Backend talking to the configured user pool
func NewBackend(cfg BackendConfig, logger *zap.Logger) (*Backend, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	verifier := NewValidator(ValidatorConfig{
		Region:     cfg.Region,
		UserPoolID: cfg.UserPoolID,
		ClientID:   cfg.ClientID,
	})

	return NewBackendWithAPI(cip.New(sess), verifier, cfg.ClientID, cfg.ClientSecret, logger), nil
}

// NewBackendWithAPI creates a Backend over an existing pool client
func NewBackendWithAPI(api cognitoidentityprovideriface.CognitoIdentityProviderAPI, verifier TokenVerifier, clientID, clientSecret string, logger *zap.Logger) *Backend {
	return &Backend{
		api:          api,
		verifier:     verifier,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
	}
}

// Factory returns an identity.Factory producing signed-out clients
func (b *Backend) Factory() identity.Factory {
	return func() identity.Provider {
		return b.Client()
	}
}

// Client creates a signed-out provider for one browser context
func (b *Backend) Client() *Provider {
	return &Provider{
		backend:   b,
		listeners: make(map[int]identity.StateListener),
	}
}

// secretHash computes SECRET_HASH for app clients that have a secret
func (b *Backend) secretHash(username string) *string {
	if b.clientSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(b.clientSecret))
	mac.Write([]byte(username + b.clientID))
	return aws.String(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// Provider is one browser context's Cognito session.
// Tokens stay in memory and are dropped on sign-out.
type Provider struct {
	backend *Backend

	mu          sync.Mutex
	current     *identity.User
	accessToken string
	listeners   map[int]identity.StateListener
	nextID      int
}

// RoleAttribute is the custom user pool attribute holding the role chosen at sign-up.
// The pool schema must define it and the app client must be allowed to write it.
const RoleAttribute = "custom:role"

// CreateUser registers the account, then signs in with the same credentials.
// On pools that require confirmation the new user is returned together with a
// user-not-confirmed credential error.
func (p *Provider) CreateUser(ctx context.Context, account identity.NewAccount) (*identity.User, error) {
	if len(account.Password) < identity.MinPasswordLength {
		return nil, identity.NewCredentialError(identity.CodeWeakPassword, "Password should be at least 6 characters", nil)
	}
	b := p.backend

	attributes := []*cip.AttributeType{
		{Name: aws.String("email"), Value: aws.String(account.Email)},
	}
	if account.Role != "" {
		attributes = append(attributes, &cip.AttributeType{
			Name:  aws.String(RoleAttribute),
			Value: aws.String(string(account.Role)),
		})
	}

	out, err := b.api.SignUpWithContext(ctx, &cip.SignUpInput{
		ClientId:       aws.String(b.clientID),
		Username:       aws.String(account.Email),
		Password:       aws.String(account.Password),
		SecretHash:     b.secretHash(account.Email),
		UserAttributes: attributes,
	})
	if err != nil {
		return nil, mapError(err)
	}
	confirmed := aws.BoolValue(out.UserConfirmed)
	b.logger.Debug("cognito user created",
		zap.String("user_sub", aws.StringValue(out.UserSub)),
		zap.Bool("confirmed", confirmed))

	pending := &identity.User{
		ID:    aws.StringValue(out.UserSub),
		Email: account.Email,
		Role:  account.Role,
	}
	if !confirmed {
		return pending, identity.NewCredentialError(identity.CodeUserNotConfirmed,
			"Check your email to confirm the account, then sign in", nil)
	}

	user, err := p.SignIn(ctx, account.Email, account.Password)
	if identity.HasCode(err, identity.CodeUserNotConfirmed) {
		return pending, err
	}
	return user, err
}

// SignIn runs the USER_PASSWORD_AUTH flow and validates the returned ID token
func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.User, error) {
	b := p.backend

	params := map[string]*string{
		"USERNAME": aws.String(email),
		"PASSWORD": aws.String(password),
	}
	if hash := b.secretHash(email); hash != nil {
		params["SECRET_HASH"] = hash
	}

	out, err := b.api.InitiateAuthWithContext(ctx, &cip.InitiateAuthInput{
		AuthFlow:       aws.String(cip.AuthFlowTypeUserPasswordAuth),
		ClientId:       aws.String(b.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, mapError(err)
	}

	if out.ChallengeName != nil {
		return nil, identity.NewCredentialError(identity.CodeInvalidCredential,
			"Additional sign-in verification is required",
			fmt.Errorf("challenge %s", aws.StringValue(out.ChallengeName)))
	}
	if out.AuthenticationResult == nil || out.AuthenticationResult.IdToken == nil {
		return nil, errors.New("cognito returned no tokens")
	}

	claims, err := b.verifier.ValidateToken(ctx, aws.StringValue(out.AuthenticationResult.IdToken))
	if err != nil {
		return nil, fmt.Errorf("id token rejected: %w", err)
	}

	user := claims.User()
	p.setCurrent(user, aws.StringValue(out.AuthenticationResult.AccessToken))
	return copyUser(user), nil
}

// SignOut revokes the session's tokens. The client is signed out locally even when
// revocation fails.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	token := p.accessToken
	p.mu.Unlock()

	var err error
	if token != "" {
		_, err = p.backend.api.GlobalSignOutWithContext(ctx, &cip.GlobalSignOutInput{
			AccessToken: aws.String(token),
		})
	}

	p.setCurrent(nil, "")
	if err != nil {
		return mapError(err)
	}
	return nil
}

// UpdateDisplayName sets the standard name attribute of the signed-in user
func (p *Provider) UpdateDisplayName(ctx context.Context, displayName string) error {
	p.mu.Lock()
	token := p.accessToken
	p.mu.Unlock()

	if token == "" {
		return identity.NewCredentialError(identity.CodeNotSignedIn, "No user is signed in", nil)
	}

	_, err := p.backend.api.UpdateUserAttributesWithContext(ctx, &cip.UpdateUserAttributesInput{
		AccessToken: aws.String(token),
		UserAttributes: []*cip.AttributeType{
			{Name: aws.String("name"), Value: aws.String(displayName)},
		},
	})
	if err != nil {
		return mapError(err)
	}

	p.mu.Lock()
	if p.current != nil {
		p.current.DisplayName = displayName
	}
	p.mu.Unlock()
	return nil
}

// OnAuthStateChanged subscribes listener and immediately reports the current state
func (p *Provider) OnAuthStateChanged(listener identity.StateListener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	current := copyUser(p.current)
	p.mu.Unlock()

	listener(current)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) setCurrent(user *identity.User, accessToken string) {
	p.mu.Lock()
	p.current = copyUser(user)
	p.accessToken = accessToken
	listeners := make([]identity.StateListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(copyUser(user))
	}
}

// mapError turns user pool rejections into credential errors; anything else is
// returned unchanged for the caller to treat as a backend failure.
func mapError(err error) error {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return err
	}

	switch aerr.Code() {
	case cip.ErrCodeUsernameExistsException:
		return identity.NewCredentialError(identity.CodeEmailInUse, "Email is already in use", err)
	case cip.ErrCodeInvalidPasswordException:
		return identity.NewCredentialError(identity.CodeWeakPassword, aerr.Message(), err)
	case cip.ErrCodeNotAuthorizedException, cip.ErrCodeUserNotFoundException:
		return identity.NewCredentialError(identity.CodeInvalidCredential, "Invalid email or password", err)
	case cip.ErrCodeUserNotConfirmedException:
		return identity.NewCredentialError(identity.CodeUserNotConfirmed, "Please confirm your email before signing in", err)
	case cip.ErrCodeTooManyRequestsException, cip.ErrCodeLimitExceededException:
		return identity.NewCredentialError(identity.CodeTooManyRequests, "Too many attempts, try again later", err)
	case cip.ErrCodeInvalidParameterException:
		return identity.NewCredentialError(identity.CodeInvalidEmail, aerr.Message(), err)
	default:
		return err
	}
}

func copyUser(u *identity.User) *identity.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
