package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// ErrSecretNotFound is returned when the configured secret does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveSecrets replaces the source password with the value of
// source.password_secret_id when one is configured. The secret may be a plain
// string or an RDS-style JSON document with a "password" field.
func (c *Config) ResolveSecrets(ctx context.Context, api SecretsAPI) error {
	id := c.Source.PasswordSecretID
	if id == "" {
		return nil
	}

	output, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException" {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, id)
		}
		return fmt.Errorf("failed to get secret %s: %w", id, err)
	}

	var value string
	switch {
	case output.SecretString != nil:
		value = *output.SecretString
	case output.SecretBinary != nil:
		value = string(output.SecretBinary)
	}
	if value == "" {
		return fmt.Errorf("secret %s is empty", id)
	}

	var doc struct {
		Password string `json:"password"`
	}
	if json.Unmarshal([]byte(value), &doc) == nil && doc.Password != "" {
		value = doc.Password
	}

	c.Source.Password = value
	return nil
}
