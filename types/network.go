package types

import "fmt"

// Network represents a supported Solana cluster
type Network string

const (
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet
)

const (
	USDCMintMainnet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCMintDevnet  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

const explorerBaseURL = "https://explorer.solana.com/tx/"

// NetworkFromCluster maps a cluster label ("mainnet-beta", "devnet") to a
// Network.
func NetworkFromCluster(cluster string) (Network, error) {
	switch cluster {
	case "mainnet-beta", "mainnet":
		return NetworkSolanaMainnet, nil
	case "devnet", "":
		return NetworkSolanaDevnet, nil
	default:
		return "", fmt.Errorf("unsupported cluster: %s", cluster)
	}
}

func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet
}

func (n Network) IsTestnet() bool {
	return n == NetworkSolanaDevnet
}

// Cluster returns the RPC cluster label of the network.
func (n Network) Cluster() string {
	if n == NetworkSolanaMainnet {
		return "mainnet-beta"
	}
	return "devnet"
}

// DefaultMint returns the USDC mint deployed on the network.
func (n Network) DefaultMint() string {
	if n == NetworkSolanaMainnet {
		return USDCMintMainnet
	}
	return USDCMintDevnet
}

// ExplorerURL links a transaction signature in the block explorer.
func (n Network) ExplorerURL(signature string) string {
	if n == NetworkSolanaMainnet {
		return explorerBaseURL + signature
	}
	return explorerBaseURL + signature + "?cluster=" + n.Cluster()
}

func (n Network) String() string {
	return string(n)
}
