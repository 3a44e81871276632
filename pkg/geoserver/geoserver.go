// Package geoserver is a small client for the GeoServer REST API. It creates
// workspaces and PostGIS data stores on demand and publishes tables as
// layers.
package geoserver

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// DefaultTimeout bounds a single REST call.
const DefaultTimeout = 30 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("geoserver: %s %s: HTTP %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("geoserver: %s %s: HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from GeoServer.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Database holds the PostGIS connection GeoServer stores use.
type Database struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// Config configures a Client.
type Config struct {
	URL       string // Base URL, e.g. http://localhost:8080/geoserver
	User      string
	Password  string
	Workspace string // Default workspace
	Store     string // Store name prefix; one store is created per schema
	Database  Database
}

// Client talks to one GeoServer instance.
type Client struct {
	cfg    Config
	base   string
	http   *http.Client
	logger logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("geoserver: URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("geoserver: invalid URL: %w", err)
	}
	if cfg.Store == "" {
		cfg.Store = "postgis"
	}
	c := &Client{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.URL, "/"),
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StoreName returns the data store used for tables of schema.
func (c *Client) StoreName(schema string) string {
	if schema == "" {
		return c.cfg.Store
	}
	return c.cfg.Store + "_" + schema
}

type workspaceXML struct {
	XMLName xml.Name `xml:"workspace"`
	Name    string   `xml:"name"`
}

type dataStoreXML struct {
	XMLName    xml.Name `xml:"dataStore"`
	Name       string   `xml:"name"`
	Connection struct {
		Host     string `xml:"host"`
		Port     string `xml:"port"`
		Database string `xml:"database"`
		Schema   string `xml:"schema"`
		User     string `xml:"user"`
		Passwd   string `xml:"passwd"`
		DBType   string `xml:"dbtype"`
	} `xml:"connectionParameters"`
}

type featureTypeXML struct {
	XMLName    xml.Name `xml:"featureType"`
	Name       string   `xml:"name"`
	NativeName string   `xml:"nativeName"`
}

// EnsureWorkspace creates workspace unless it exists.
func (c *Client) EnsureWorkspace(ctx context.Context, workspace string) error {
	err := c.do(ctx, http.MethodGet, "workspaces/"+url.PathEscape(workspace)+".json", nil)
	if err == nil || !IsNotFound(err) {
		return err
	}
	c.logger.WithField("workspace", workspace).Info("creating geoserver workspace")
	return c.do(ctx, http.MethodPost, "workspaces", workspaceXML{Name: workspace})
}

// EnsureDataStore creates the PostGIS store for schema in workspace unless
// it exists, and returns its name.
func (c *Client) EnsureDataStore(ctx context.Context, workspace, schema string) (string, error) {
	name := c.StoreName(schema)
	path := "workspaces/" + url.PathEscape(workspace) + "/datastores"
	err := c.do(ctx, http.MethodGet, path+"/"+url.PathEscape(name)+".json", nil)
	if err == nil || !IsNotFound(err) {
		return name, err
	}

	db := c.cfg.Database
	port := db.Port
	if port == 0 {
		port = 5432
	}
	body := dataStoreXML{Name: name}
	body.Connection.Host = db.Host
	body.Connection.Port = strconv.Itoa(port)
	body.Connection.Database = db.Name
	body.Connection.Schema = schema
	body.Connection.User = db.User
	body.Connection.Passwd = db.Password
	body.Connection.DBType = "postgis"

	c.logger.WithFields(logrus.Fields{"workspace": workspace, "store": name}).Info("creating geoserver data store")
	return name, c.do(ctx, http.MethodPost, path, body)
}

// Publish exposes req.Schema.req.Table as a layer and returns the WMS and
// WFS endpoints for it.
func (c *Client) Publish(ctx context.Context, req core.PublishRequest) (*core.PublishResult, error) {
	ws := c.workspace(req.Workspace)
	if err := c.EnsureWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	store, err := c.EnsureDataStore(ctx, ws, req.Schema)
	if err != nil {
		return nil, err
	}
	path := "workspaces/" + url.PathEscape(ws) + "/datastores/" + url.PathEscape(store) + "/featuretypes"
	if err := c.do(ctx, http.MethodPost, path, featureTypeXML{Name: req.Table, NativeName: req.Table}); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{"workspace": ws, "layer": req.Table}).Info("layer published")
	return c.Endpoints(ws, req.Table), nil
}

// Endpoints returns the service URLs of a published layer.
func (c *Client) Endpoints(workspace, layer string) *core.PublishResult {
	name := url.QueryEscape(workspace + ":" + layer)
	ws := url.PathEscape(workspace)
	return &core.PublishResult{
		WMS: fmt.Sprintf("%s/%s/wms?service=WMS&request=GetMap&layers=%s", c.base, ws, name),
		WFS: fmt.Sprintf("%s/%s/ows?service=WFS&request=GetFeature&typeName=%s", c.base, ws, name),
	}
}

// Unpublish removes a layer and its feature type. A missing layer is not
// an error.
func (c *Client) Unpublish(ctx context.Context, workspace, layer string) error {
	ws := c.workspace(workspace)
	path := "workspaces/" + url.PathEscape(ws) + "/layers/" + url.PathEscape(layer) + "?recurse=true"
	err := c.do(ctx, http.MethodDelete, path, nil)
	if IsNotFound(err) {
		return nil
	}
	if err == nil {
		c.logger.WithFields(logrus.Fields{"workspace": ws, "layer": layer}).Info("layer unpublished")
	}
	return err
}

// Ping checks that the REST API answers with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "about/version.json", nil)
}

func (c *Client) workspace(ws string) string {
	if ws == "" {
		return c.cfg.Workspace
	}
	return ws
}

// do sends one REST request. body, when non-nil, is marshalled as XML.
func (c *Client) do(ctx context.Context, method, path string, body any) error {
	var rd io.Reader
	if body != nil {
		b, err := xml.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/rest/"+path, rd)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "text/xml")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("geoserver: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{
			Method: method,
			Path:   strings.SplitN(path, "?", 2)[0],
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var (
	_ core.Publisher   = (*Client)(nil)
	_ core.Unpublisher = (*Client)(nil)
	_ core.Pinger      = (*Client)(nil)
)
