package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// GetApp creates a Firebase App, using the service account file at credentialsPath when
// provided and application default credentials otherwise.
func GetApp(ctx context.Context, credentialsPath *string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsPath != nil {
		opts = append(opts, option.WithCredentialsFile(*credentialsPath))
	}

	return firebase.NewApp(ctx, nil, opts...)
}

// InitFirebaseAuth initializes the Firebase App and returns an Auth client used to verify ID tokens.
func InitFirebaseAuth(ctx context.Context, credentialsPath *string) (*firebaseauth.Client, error) {
	firebaseApp, err := GetApp(ctx, credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app [%w]", err)
	}

	fbAuth, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase auth [%w]", err)
	}

	return fbAuth, nil
}
