// Package client is the host-facing facade over the tds/* layers: a
// dynamic, named connection-pool registry, a Connect helper that turns
// credentials into a handshake, and re-exports of the result-stream and
// bulk-load writer types so a host never needs to import tds/* itself.
package client

import (
	"context"
	"time"

	"github.com/ha1tch/tdsclient/azure"
	"github.com/ha1tch/tdsclient/tds/bcp"
	"github.com/ha1tch/tdsclient/tds/codec"
	"github.com/ha1tch/tdsclient/tds/conn"
	"github.com/ha1tch/tdsclient/tds/handshake"
	"github.com/ha1tch/tdsclient/tds/stream"
)

// Connection, ResultStream, QueryResult and RowCallback are re-exported
// so callers only need to import this package.
type (
	Connection      = conn.Connection
	ResultStream    = stream.Stream
	QueryResult     = stream.QueryResult
	RowCallback     = stream.RowCallback
	Column          = codec.Column
	BulkLoadWriter  = bcp.Writer
	BulkLoadOptions = bcp.Options
)

// Credentials describes what a host supplies to authenticate: either a
// username/password pair, or a TokenProvider for federated auth (Azure
// AD / managed identity). Exactly one of these two should be set.
type Credentials struct {
	UserName string
	Password string

	TokenProvider   handshake.TokenProvider
	FedAuthResource string
	FedAuthWorkflow uint8
}

// ConnectOptions is the credential-source Host callback surface:
// everything needed to dial and authenticate one connection.
type ConnectOptions struct {
	Host     string
	Port     uint16
	Instance string
	Database string
	AppName  string

	Encrypt handshake.EncryptMode

	Credentials Credentials

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	PacketSize       uint32

	// Classifier, if set, is the classifier ClassifyEndpoint consults.
	// Defaults to azure.Classifier{} when nil. Connect does not consult
	// it, and TLS certificate verification does not depend on it.
	Classifier azure.EndpointClassifier
}

func (o ConnectOptions) toHandshakeOptions() handshake.ConnectOptions {
	return handshake.ConnectOptions{
		Host:             o.Host,
		Port:             o.Port,
		Instance:         o.Instance,
		Database:         o.Database,
		AppName:          o.AppName,
		HostName:         o.Host,
		UserName:         o.Credentials.UserName,
		Password:         o.Credentials.Password,
		TokenProvider:    o.Credentials.TokenProvider,
		FedAuthResource:  o.Credentials.FedAuthResource,
		FedAuthWorkflow:  o.Credentials.FedAuthWorkflow,
		Encrypt:          o.Encrypt,
		ConnectTimeout:   o.ConnectTimeout,
		HandshakeTimeout: o.HandshakeTimeout,
		PacketSize:       o.PacketSize,
	}
}

// Connect runs the full handshake (PRELOGIN/LOGIN7/fedauth/routing) and
// wraps the result in a ready-to-use *Connection.
func Connect(ctx context.Context, opts ConnectOptions) (*Connection, error) {
	result, err := handshake.Do(ctx, opts.toHandshakeOptions())
	if err != nil {
		return nil, err
	}
	return conn.New(result), nil
}

// ClassifyEndpoint reports the Azure endpoint type of a host, using
// opts.Classifier if set, or azure.Classifier{} otherwise. Useful for a
// host deciding whether to require a TokenProvider before calling
// Connect.
func (o ConnectOptions) ClassifyEndpoint() azure.EndpointType {
	c := o.Classifier
	if c == nil {
		c = azure.Classifier{}
	}
	return c.Classify(o.Host)
}

// NewBulkLoadWriter targets a bulk-load writer at the given table and
// column schema on an already-acquired connection. mapping, if
// non-nil, names the source columns in row order.
func NewBulkLoadWriter(c *Connection, target string, columns []Column, mapping []string, opts BulkLoadOptions) *BulkLoadWriter {
	return bcp.New(c, target, columns, mapping, opts)
}

// Execute, ExecuteWithCallback and ExecuteScalar forward to the
// tds/stream convenience wrappers so a host never imports tds/stream
// directly.
func Execute(c *Connection, sql string) (*QueryResult, error) { return stream.Execute(c, sql) }

func ExecuteWithCallback(c *Connection, sql string, cb RowCallback) (*QueryResult, error) {
	return stream.ExecuteWithCallback(c, sql, cb)
}

func ExecuteScalar(c *Connection, sql string) (string, error) { return stream.ExecuteScalar(c, sql) }

// NewResultStream opens a streaming interface onto an already-issued
// batch, for callers who need FillBatch-level control instead of
// Execute's all-at-once materialization.
func NewResultStream(c *Connection) *ResultStream { return stream.New(c) }
