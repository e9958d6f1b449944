// Package azure classifies SQL Server-compatible endpoints hosted on
// Azure and supplies a federated-auth token provider that refreshes
// from an on-disk token cache.
package azure

import "strings"

// EndpointType identifies which Azure-hosted (or non-Azure) product a
// connection target belongs to. Fabric and Synapse are checked before
// the broader AzureSQL suffix since their hostnames would otherwise
// also satisfy a looser Azure check.
type EndpointType int

const (
	OnPremises EndpointType = iota
	AzureSQL
	Fabric
	Synapse
)

func (t EndpointType) String() string {
	switch t {
	case AzureSQL:
		return "azure_sql"
	case Fabric:
		return "fabric"
	case Synapse:
		return "synapse"
	default:
		return "on_premises"
	}
}

// EndpointClassifier determines the Azure product family behind a host
// name and whether the TLS handshake should verify it against the
// server's certificate hostname. A host embedding this module may
// supply its own classifier (e.g. to recognize a private-link suffix);
// Classifier is the default, hostname-suffix-based implementation.
type EndpointClassifier interface {
	Classify(host string) EndpointType
	RequiresHostnameVerification(t EndpointType) bool
}

// Classifier is the default EndpointClassifier, matching hostname
// suffixes case-insensitively, most specific first.
type Classifier struct{}

const (
	suffixAzureSQL = ".database.windows.net"
	suffixFabric1  = ".datawarehouse.fabric.microsoft.com"
	suffixFabric2  = ".pbidedicated.windows.net"
	suffixSynapse  = ".sql.azuresynapse.net"
)

// Classify returns the endpoint type a host's name indicates, checking
// the most specific Azure product suffixes first so a Fabric or Synapse
// host is never misclassified as plain AzureSQL.
func (Classifier) Classify(host string) EndpointType {
	if hasSuffixFold(host, suffixFabric1) || hasSuffixFold(host, suffixFabric2) {
		return Fabric
	}
	if hasSuffixFold(host, suffixSynapse) {
		return Synapse
	}
	if hasSuffixFold(host, suffixAzureSQL) {
		return AzureSQL
	}
	return OnPremises
}

// RequiresHostnameVerification reports true for every Azure-hosted
// endpoint type; on-premises servers may present a self-signed
// certificate that hostname verification would otherwise reject.
func (Classifier) RequiresHostnameVerification(t EndpointType) bool {
	return t != OnPremises
}

func hasSuffixFold(host, suffix string) bool {
	if len(host) < len(suffix) {
		return false
	}
	return strings.EqualFold(host[len(host)-len(suffix):], suffix)
}
