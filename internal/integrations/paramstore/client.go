package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client reads decrypted parameters below a fixed prefix.
type Client struct {
	api    ssmAPI
	prefix string
}

// New creates a Client. Names passed to GetParameter and Lookup are joined
// onto prefix unless they are already absolute.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, prefix: strings.TrimRight(strings.TrimSpace(prefix), "/")}, nil
}

// Name returns the fully qualified parameter name for key.
func (c *Client) Name(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "/") || c.prefix == "" {
		return key
	}
	return c.prefix + "/" + key
}

// GetParameter returns the decrypted value of a required parameter.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	value, found, err := c.get(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("paramstore: parameter %q not found", c.Name(name))
	}
	return value, nil
}

// Lookup is GetParameter for optional parameters: a missing parameter yields
// ("", false, nil).
func (c *Client) Lookup(ctx context.Context, name string) (string, bool, error) {
	return c.get(ctx, name)
}

func (c *Client) get(ctx context.Context, name string) (string, bool, error) {
	if c.api == nil {
		return "", false, errors.New("paramstore: client not initialized")
	}
	full := c.Name(name)
	if full == "" {
		return "", false, errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(full),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("paramstore: get parameter %q: %w", full, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", false, errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, true, nil
}
