package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"chat-history-agent/internal/config"
	"chat-history-agent/internal/integrations/gemini"
	"chat-history-agent/internal/integrations/paramstore"
	"chat-history-agent/internal/repository"
	"chat-history-agent/internal/usecase"
)

const (
	apiKeyParam            = "gemini-api-key"
	systemInstructionParam = "system_instruction"
)

// Store is a TurnStore that may own resources.
type Store interface {
	usecase.TurnStore
	io.Closer
}

type nopCloser struct {
	usecase.TurnStore
}

func (nopCloser) Close() error { return nil }

// Deps is everything a front end needs to build sessions.
type Deps struct {
	Config            config.Config
	Store             Store
	Generator         usecase.Generator
	SystemInstruction string
}

// Close releases the store.
func (d *Deps) Close() error {
	if d == nil || d.Store == nil {
		return nil
	}
	return d.Store.Close()
}

// NewSession builds a fresh session over the shared store and generator.
func (d *Deps) NewSession(opts ...usecase.SessionOption) (*usecase.Session, error) {
	base := []usecase.SessionOption{usecase.WithSystemInstruction(d.SystemInstruction)}
	return usecase.NewSession(d.Store, d.Generator, append(base, opts...)...)
}

// Build validates cfg and wires the store, parameter store and generator.
// AWS configuration is only loaded when a component needs it.
func Build(ctx context.Context, cfg config.Config) (*Deps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	store, err := openStore(cfg.Store, loadAWS)
	if err != nil {
		return nil, err
	}

	var params *paramstore.Client
	if cfg.ParamPrefix != "" {
		ac, err := loadAWS()
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		params, err = paramstore.New(awsssm.NewFromConfig(ac), cfg.ParamPrefix)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
	}

	generator, err := newGenerator(cfg, params)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	instruction, err := systemInstruction(ctx, cfg, params)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	log.Debug().
		Str("backend", cfg.Store.Backend).
		Str("collection", cfg.Store.Collection).
		Str("model", generator.Model()).
		Msg("app: dependencies ready")

	return &Deps{
		Config:            cfg,
		Store:             store,
		Generator:         generator,
		SystemInstruction: instruction,
	}, nil
}

func openStore(cfg config.StoreConfig, loadAWS func() (aws.Config, error)) (Store, error) {
	switch cfg.Backend {
	case config.BackendDynamoDB:
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		c, err := repository.New(awsdynamodb.NewFromConfig(ac), cfg.Table, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return nopCloser{c}, nil
	case config.BackendBolt:
		s, err := repository.OpenBolt(cfg.BoltPath, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return s, nil
	case config.BackendPostgres:
		s, err := repository.OpenPostgres(cfg.DSN, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.Backend)
	}
}

func newGenerator(cfg config.Config, params *paramstore.Client) (*gemini.Client, error) {
	opts := []gemini.Option{
		gemini.WithBaseURL(cfg.Gemini.BaseURL),
		gemini.WithModel(cfg.Gemini.Model),
		gemini.WithHTTPClient(&http.Client{Timeout: cfg.Gemini.Timeout}),
	}
	switch {
	case cfg.Gemini.APIKey != "":
		opts = append(opts, gemini.WithAPIKey(cfg.Gemini.APIKey))
	case params != nil:
		opts = append(opts, gemini.WithParamStore(params, apiKeyParam))
	default:
		return nil, errors.New("app: no Gemini API key source configured")
	}
	c, err := gemini.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create Gemini client: %w", err)
	}
	return c, nil
}

// systemInstruction prefers the configured value and falls back to the
// optional SSM parameter.
func systemInstruction(ctx context.Context, cfg config.Config, params *paramstore.Client) (string, error) {
	if cfg.SystemInstruction != "" || params == nil {
		return cfg.SystemInstruction, nil
	}
	value, found, err := params.Lookup(ctx, systemInstructionParam)
	if err != nil {
		return "", fmt.Errorf("app: load system instruction: %w", err)
	}
	if !found {
		return "", nil
	}
	return value, nil
}
