// README: Firebase Admin SDK initialisation: token verifier, FCM pusher and Storage blob store.
package infra

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"firebase.google.com/go/v4/storage"
	"google.golang.org/api/option"
)

// AuthToken holds the verified identity used by downstream middleware.
type AuthToken struct {
	UID    string
	Claims map[string]interface{}
}

// Role returns the "role" custom claim, or "" when absent.
func (t *AuthToken) Role() string {
	if t == nil || t.Claims == nil {
		return ""
	}
	role, _ := t.Claims["role"].(string)
	return role
}

// TokenVerifier verifies a raw bearer token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*AuthToken, error)
}

// NewFirebaseApp creates the shared Admin SDK app.
// If credentialsFile is non-empty it is used as the service-account JSON path;
// otherwise application-default credentials are used.
func NewFirebaseApp(ctx context.Context, projectID, bucket, credentialsFile string) (*firebase.App, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, StorageBucket: bucket}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return app, nil
}

type firebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (TokenVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*AuthToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &AuthToken{UID: token.UID, Claims: token.Claims}, nil
}

// Pusher delivers a best-effort notification to a device token.
type Pusher interface {
	Push(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

type fcmPusher struct {
	client *messaging.Client
}

func NewFCMPusher(ctx context.Context, app *firebase.App) (Pusher, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return &fcmPusher{client: client}, nil
}

func (p *fcmPusher) Push(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	_, err := p.client.Send(ctx, &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	})
	return err
}

// BlobStore persists uploaded files and returns a public reference.
type BlobStore interface {
	Put(ctx context.Context, folder, name, contentType string, r io.Reader) (string, error)
}

type firebaseBlobStore struct {
	client *storage.Client
	bucket string
}

func NewFirebaseBlobStore(ctx context.Context, app *firebase.App, bucket string) (BlobStore, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Storage: %w", err)
	}
	return &firebaseBlobStore{client: client, bucket: bucket}, nil
}

func (b *firebaseBlobStore) Put(ctx context.Context, folder, name, contentType string, r io.Reader) (string, error) {
	handle, err := b.client.Bucket(b.bucket)
	if err != nil {
		return "", err
	}
	object := path.Join(folder, fmt.Sprintf("%d-%s", time.Now().UnixNano(), path.Base(name)))
	w := handle.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", b.bucket, object), nil
}
