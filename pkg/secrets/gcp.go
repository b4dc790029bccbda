// Package secrets reads credentials from GCP Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Accessor is the part of the Secret Manager client used here.
type Accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

type GCPSecretManager struct {
	client    Accessor
	closer    func() error
	projectID string
	logger    *logrus.Entry
}

// NewGCPSecretManager connects with application default credentials, or
// with credentialsFile when it is set.
func NewGCPSecretManager(ctx context.Context, projectID, credentialsFile string, logger *logrus.Logger) (*GCPSecretManager, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secretmanager client: %w", err)
	}
	m := NewWithAccessor(client, projectID, logger)
	m.closer = client.Close
	return m, nil
}

func NewWithAccessor(client Accessor, projectID string, logger *logrus.Logger) *GCPSecretManager {
	return &GCPSecretManager{
		client:    client,
		closer:    func() error { return nil },
		projectID: projectID,
		logger:    logger.WithField("component", "secrets"),
	}
}

func (g *GCPSecretManager) GetSecret(ctx context.Context, secretName string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.projectID, secretName)
	result, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretName, err)
	}
	return string(result.GetPayload().GetData()), nil
}

func (g *GCPSecretManager) GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string {
	if secretName == "" {
		return defaultValue
	}
	value, err := g.GetSecret(ctx, secretName)
	if err != nil {
		g.logger.WithError(err).WithField("secret", secretName).Debug("Failed to get secret, using default")
		return defaultValue
	}
	return strings.TrimSpace(value)
}

// Fill sets *dst from secretName when *dst is empty.
func (g *GCPSecretManager) Fill(ctx context.Context, dst *string, secretName string) {
	if *dst == "" {
		*dst = g.GetSecretWithDefault(ctx, secretName, "")
	}
}

func (g *GCPSecretManager) Close() error {
	return g.closer()
}

type SecretNames struct {
	CoinbaseAPIKey     string `mapstructure:"coinbase_api_key"`
	CoinbaseAPISecret  string `mapstructure:"coinbase_api_secret"`
	CoinbasePassphrase string `mapstructure:"coinbase_passphrase"`
	CoinbaseAPIKeyName string `mapstructure:"coinbase_api_key_name"`
	CoinbasePrivateKey string `mapstructure:"coinbase_private_key"`
	DiscordWebhook     string `mapstructure:"discord_webhook"`
}

func DefaultSecretNames() SecretNames {
	return SecretNames{
		CoinbaseAPIKey:     "coinbase-api-key",
		CoinbaseAPISecret:  "coinbase-api-secret",
		CoinbasePassphrase: "coinbase-passphrase",
		CoinbaseAPIKeyName: "coinbase-api-key-name",
		CoinbasePrivateKey: "coinbase-private-key",
		DiscordWebhook:     "discord-webhook-url",
	}
}
