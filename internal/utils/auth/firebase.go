// Package auth holds the bearer-token verifiers used by the HTTP middleware.
package auth

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"support-app/session-service/internal/models"
)

const anonymousProvider = "anonymous"

// FirebaseProvider verifies Firebase ID tokens. Guests sign in anonymously,
// clients with any other provider.
type FirebaseProvider struct {
	client *fbauth.Client
}

func NewFirebaseProvider(ctx context.Context, projectID, credentialsFile string) (*FirebaseProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return &FirebaseProvider{client: client}, nil
}

func (p *FirebaseProvider) Verify(ctx context.Context, idToken string) (models.Identity, error) {
	token, err := p.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return models.Identity{}, fmt.Errorf("verify id token: %w", err)
	}
	if token.UID == "" {
		return models.Identity{}, errors.New("verify id token: empty uid")
	}
	email, _ := token.Claims["email"].(string)
	return models.Identity{
		UID:       token.UID,
		Email:     models.NormalizeEmail(email),
		Anonymous: token.Firebase.SignInProvider == anonymousProvider,
	}, nil
}
