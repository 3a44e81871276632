package core

import "context"

// Operation is the long-running work tracked by a ticket.
type Operation func(ctx context.Context) (*Outcome, error)

// IngestRequest describes one vector file load.
type IngestRequest struct {
	Source   string // Path to a file, directory or archive
	Schema   string
	Table    string
	Encoding string
	CRS      string
	Replace  bool
	WorkDir  string // Removed after the ingest when set
}

// IngestResult reports where the rows landed.
type IngestResult struct {
	Schema   string
	Table    string
	RowCount int64
}

// Ingester loads a vector source into the spatial database.
type Ingester interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

// TableChecker reports whether a table exists.
type TableChecker interface {
	TableExists(ctx context.Context, schema, table string) (bool, error)
}

// TableDropper removes an ingested table. Dropping a missing table is a no-op.
type TableDropper interface {
	DropTable(ctx context.Context, schema, table string) error
}

// PublishRequest names the table to expose as a map layer.
type PublishRequest struct {
	Schema    string
	Table     string
	Workspace string
}

// PublishResult holds the service endpoints of a published layer.
type PublishResult struct {
	WMS string `json:"wms"`
	WFS string `json:"wfs"`
}

// Publisher exposes a table through the map server.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}

// Unpublisher removes a layer. Removing a missing layer is a no-op.
type Unpublisher interface {
	Unpublish(ctx context.Context, workspace, layer string) error
}

// Pinger is implemented by every backend the health checks ping.
type Pinger interface {
	Ping(ctx context.Context) error
}
