package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	accountPrefix    = []byte("account:")
	genesisMarkerKey = ethcrypto.Keccak256([]byte("genesis-applied"))
)
