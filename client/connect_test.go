package client

import (
	"testing"

	"github.com/ha1tch/tdsclient/azure"
	"github.com/ha1tch/tdsclient/tds/codec"
	"github.com/stretchr/testify/require"
)

func TestConnectOptionsToHandshakeOptions(t *testing.T) {
	opts := ConnectOptions{
		Host:     "db.example.com",
		Port:     1433,
		Database: "orders",
		Credentials: Credentials{
			UserName: "svc",
			Password: "secret",
		},
	}
	ho := opts.toHandshakeOptions()
	require.Equal(t, "db.example.com", ho.Host)
	require.Equal(t, uint16(1433), ho.Port)
	require.Equal(t, "orders", ho.Database)
	require.Equal(t, "svc", ho.UserName)
	require.Equal(t, "secret", ho.Password)
	require.Equal(t, "db.example.com", ho.HostName)
}

func TestConnectOptionsClassifyEndpointDefaultsToAzureClassifier(t *testing.T) {
	opts := ConnectOptions{Host: "myserver.database.windows.net"}
	require.Equal(t, azure.AzureSQL, opts.ClassifyEndpoint())
}

func TestConnectOptionsClassifyEndpointHonorsOverride(t *testing.T) {
	opts := ConnectOptions{Host: "anything", Classifier: stubClassifier{typ: azure.Fabric}}
	require.Equal(t, azure.Fabric, opts.ClassifyEndpoint())
}

type stubClassifier struct{ typ azure.EndpointType }

func (s stubClassifier) Classify(string) azure.EndpointType                { return s.typ }
func (s stubClassifier) RequiresHostnameVerification(azure.EndpointType) bool { return true }

func TestNewBulkLoadWriterWiresColumnsAndTarget(t *testing.T) {
	columns := []Column{{Name: "id", Type: codec.TypeIntN, Length: 4}}
	w := NewBulkLoadWriter(nil, "dbo.orders", columns, nil, BulkLoadOptions{})
	require.NotNil(t, w)
}
