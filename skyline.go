// Package skyline is the client SDK for the Skyline data platform. It
// moves tabular data between callers and the platform's data sources:
// bulk reads ride the Arrow Flight transfer service, with direct
// object-storage, volume and asset-file paths as fallbacks for assets
// the service cannot serve.
package skyline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/skylineml/skyline-go/api"
	"github.com/skylineml/skyline-go/connection"
	"github.com/skylineml/skyline-go/objstore"
	"github.com/skylineml/skyline-go/transfer"
)

// Options configure New. The zero value resolves everything from the
// environment.
type Options struct {
	// Credentials set explicitly win over the environment and the file.
	Credentials Credentials
	// ConfigFile is the path of an optional YAML credentials file.
	ConfigFile string
}

// Client is the SDK entry point. One client serves one project or space.
type Client struct {
	creds   Credentials
	api     *api.Client
	flight  *transfer.Client
	runtime *connection.Runtime
}

// New resolves credentials and wires up the platform clients. The Flight
// connection is lazy; New does not touch the network.
func New(opts Options) (*Client, error) {
	var fileCfg *FileConfig
	if opts.ConfigFile != "" {
		fc, err := LoadConfigFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		fileCfg = fc
	}
	creds := resolveCredentials(fileCfg, opts.Credentials, os.Getenv, func(msg string) {
		slog.Warn(msg)
	})
	return newClient(creds)
}

func newClient(creds Credentials) (*Client, error) {
	if creds.URL == "" {
		return nil, errors.New("skyline: platform URL is required")
	}
	if creds.ProjectID == "" && creds.SpaceID == "" {
		return nil, errors.New("skyline: a project or space id is required")
	}
	if creds.FlightHost == "" {
		return nil, errors.New("skyline: transfer service host is required")
	}

	tokens, err := tokenProviderFor(creds)
	if err != nil {
		return nil, err
	}

	apiClient, err := api.NewClient(api.Config{
		BaseURL:          creds.URL,
		TokenProvider:    tokens,
		ProjectID:        creds.ProjectID,
		SpaceID:          creds.SpaceID,
		DisableTLSVerify: creds.DisableTLSVerify,
	})
	if err != nil {
		return nil, err
	}

	flightClient, err := transfer.NewClient(transfer.ClientConfig{
		Host:             creds.FlightHost,
		Port:             creds.FlightPort,
		TokenProvider:    tokens,
		DisableTLSVerify: creds.DisableTLSVerify,
		EnableTelemetry:  true,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		creds:  creds,
		api:    apiClient,
		flight: flightClient,
		runtime: &connection.Runtime{
			API:    apiClient,
			Tables: &flightTables{client: flightClient},
		},
	}, nil
}

// API exposes the platform's REST surface.
func (c *Client) API() *api.Client { return c.api }

// Read loads the data behind a connection into an arrow table. The
// result never exceeds transfer.DataSizeLimit; rows past the limit are
// dropped.
func (c *Client) Read(ctx context.Context, dc connection.DataConnection) (arrow.Table, error) {
	return dc.Read(ctx, c.runtime)
}

// Write stores src at the location dc names.
func (c *Client) Write(ctx context.Context, dc connection.DataConnection, src connection.WriteSource) error {
	return dc.Write(ctx, c.runtime, src)
}

// Close tears down the Flight channel. The REST client needs no
// teardown.
func (c *Client) Close() error {
	return c.flight.Close()
}

// flightTables adapts the transfer service to the connection runtime. It
// builds the part discoverer per request so discovery runs with the
// request's own object-storage credentials.
type flightTables struct {
	client *transfer.Client
}

func (f *flightTables) ReadTable(ctx context.Context, req transfer.ReadRequest) (arrow.Table, error) {
	var discoverer transfer.PartDiscoverer
	if store, err := objstore.FromProperties(req.Properties); err == nil {
		discoverer = store
	}
	return transfer.NewService(f.client, discoverer).ReadTable(ctx, req)
}
