package trigger

import "github.com/ethereum/go-ethereum/crypto"

// keccak256 hashes data with the canonical Ethereum Keccak-256 function,
// the same primitive the chain uses to derive event topics and method ids.
func keccak256(data []byte) []byte {
	return crypto.Keccak256(data)
}
