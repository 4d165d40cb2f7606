package solana

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// rpcAdapter narrows *rpc.Client to RPCClient. GetTransaction is promoted as is.
type rpcAdapter struct {
	*rpc.Client
}

// NewRPCClient wraps a solana-go JSON-RPC client for rpcURL.
// Provider API keys belong in the URL; use EndpointLabel before logging it.
func NewRPCClient(rpcURL string) RPCClient {
	return rpcAdapter{Client: rpc.New(rpcURL)}
}

func (a rpcAdapter) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return a.Client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

// PickEndpoint returns one endpoint of the pool at random so that several processes
// sharing a configuration spread their load across providers.
func PickEndpoint(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", fmt.Errorf("no RPC endpoints configured")
	}
	return endpoints[rand.IntN(len(endpoints))], nil
}

// EndpointLabel reduces an endpoint URL to its host, dropping paths and query strings
// that commonly carry API keys. Unparseable input is returned as "unknown".
func EndpointLabel(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
