package exec

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arbnexus/arbnexus/internal/chain"
	"github.com/arbnexus/arbnexus/internal/domain"
)

// Signer holds the execution key. The key material never leaves this
// type: it is not logged, not serialized and not exposed through any
// accessor.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewSigner parses the hex-encoded key supplied out-of-band.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return &Signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signing account.
func (s *Signer) Address() common.Address { return s.addr }

// SignCall builds and signs one transaction for a plan call. EIP-1559
// chains get a dynamic-fee tx with a 2x base-fee cap; legacy chains a
// gas-priced tx.
func (s *Signer) SignCall(meta domain.ChainMeta, call domain.Call, nonce, gasLimit uint64, gas chain.GasEstimate) ([]byte, common.Hash, error) {
	chainID := new(big.Int).SetUint64(meta.NetworkID)
	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	var tx *types.Transaction
	if meta.EIP1559 {
		tip := gas.TipWei
		if tip == nil {
			tip = big.NewInt(0)
		}
		base := gas.BaseFeeWei
		if base == nil {
			base = gas.PriceWei
		}
		feeCap := new(big.Int).Mul(base, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &call.To,
			Value:     value,
			Data:      call.Data,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gas.PriceWei,
			Gas:      gasLimit,
			To:       &call.To,
			Value:    value,
			Data:     call.Data,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("encode tx: %w", err)
	}
	return raw, signed.Hash(), nil
}

// SignCancel builds the replacement cancel: a zero-value self-transfer
// on the same nonce with bumped gas.
func (s *Signer) SignCancel(meta domain.ChainMeta, nonce uint64, gas chain.GasEstimate, bump float64, attempt int) ([]byte, common.Hash, error) {
	bumped := bumpGas(gas, bump, attempt)
	call := domain.Call{To: s.addr}
	return s.SignCall(meta, call, nonce, 21_000, bumped)
}

// bumpGas scales every gas component by (1+bump)^attempt.
func bumpGas(gas chain.GasEstimate, bump float64, attempt int) chain.GasEstimate {
	factor := 1.0
	for i := 0; i < attempt; i++ {
		factor *= 1 + bump
	}
	scale := func(v *big.Int) *big.Int {
		if v == nil {
			return nil
		}
		f := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(factor))
		out, _ := f.Int(nil)
		return out
	}
	return chain.GasEstimate{
		PriceWei:   scale(gas.PriceWei),
		BaseFeeWei: scale(gas.BaseFeeWei),
		TipWei:     scale(gas.TipWei),
		Block:      gas.Block,
	}
}
