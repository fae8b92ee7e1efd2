// Package settlement redeems resolved winning positions on Polygon. Binary
// markets pay 1 USDC.e per winning contract; the collector finds redeemable
// positions through the Data API and the redeemer claims them on-chain
// through the Conditional Token Framework.
package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/updownlabs/updownbot/internal/domain"
)

const (
	// redeemGasLimit is the fallback when on-chain estimation fails.
	redeemGasLimit = uint64(300_000)

	// collateralScale converts contract counts to USDC.e base units.
	collateralScale = 1_000_000

	receiptPollInterval = 3 * time.Second
	receiptWait         = 90 * time.Second
)

var (
	ctfABI            abi.ABI
	negRiskAdapterABI abi.ABI
	erc20ABI          abi.ABI
)

func init() {
	var err error

	ctfABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "redeemPositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "indexSets", "type": "uint256[]"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("settlement: ctf abi parse: " + err.Error())
	}

	negRiskAdapterABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "redeemPositions",
			"type": "function",
			"inputs": [
				{"name": "_conditionId", "type": "bytes32"},
				{"name": "_amounts", "type": "uint256[]"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("settlement: neg risk adapter abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("settlement: erc20 abi parse: " + err.Error())
	}
}

// RedeemerConfig holds the chain endpoints and contract addresses.
type RedeemerConfig struct {
	RPCURL         string
	ChainID        int
	CTFAddress     string
	USDCAddress    string
	NegRiskAdapter string
	GasLimitBump   int // percent added to the gas estimate
}

// Redeemer submits on-chain redemption transactions for resolved markets.
type Redeemer struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	cfg     RedeemerConfig
	logger  *slog.Logger
}

// NewRedeemer dials the Polygon RPC and prepares the signing key.
// privateKeyHex may carry a 0x prefix.
func NewRedeemer(privateKeyHex string, cfg RedeemerConfig, logger *slog.Logger) (*Redeemer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("settlement: parse private key: %w", err)
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("settlement: dial rpc %s: %w", cfg.RPCURL, err)
	}

	return &Redeemer{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "redeemer")),
	}, nil
}

// Address returns the redeeming wallet address.
func (r *Redeemer) Address() string {
	return r.address.Hex()
}

// USDCBalance returns the wallet's USDC.e balance in whole dollars.
func (r *Redeemer) USDCBalance(ctx context.Context) (float64, error) {
	callData, err := erc20ABI.Pack("balanceOf", r.address)
	if err != nil {
		return 0, fmt.Errorf("settlement: pack balanceOf: %w", err)
	}

	usdc := common.HexToAddress(r.cfg.USDCAddress)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &usdc, Data: callData}, nil)
	if err != nil {
		return 0, fmt.Errorf("settlement: usdc balance: %w", err)
	}

	var balance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&balance, "balanceOf", out); err != nil {
		return 0, fmt.Errorf("settlement: decode balance: %w", err)
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(balance), big.NewFloat(collateralScale)).Float64()
	return f, nil
}

// GasBalance returns the wallet's native POL balance in whole tokens.
func (r *Redeemer) GasBalance(ctx context.Context) (float64, error) {
	wei, err := r.client.BalanceAt(ctx, r.address, nil)
	if err != nil {
		return 0, fmt.Errorf("settlement: gas balance: %w", err)
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f, nil
}

// Redeem claims one resolved position's collateral and returns the
// transaction hash once the transaction is confirmed. Normal markets redeem
// through the CTF directly; neg-risk markets go through the adapter with
// per-outcome amounts.
func (r *Redeemer) Redeem(ctx context.Context, claim domain.RedemptionClaim) (string, error) {
	condition, err := hexToBytes32(claim.ConditionID)
	if err != nil {
		return "", fmt.Errorf("settlement: condition id %q: %w", claim.ConditionID, err)
	}

	var to common.Address
	var callData []byte

	if claim.NegRisk {
		amount := new(big.Int).SetInt64(int64(claim.Contracts * collateralScale))
		amounts := []*big.Int{big.NewInt(0), big.NewInt(0)}
		idx := 0
		if claim.Side == domain.OutcomeDown {
			idx = 1
		}
		amounts[idx] = amount

		to = common.HexToAddress(r.cfg.NegRiskAdapter)
		callData, err = negRiskAdapterABI.Pack("redeemPositions", condition, amounts)
	} else {
		to = common.HexToAddress(r.cfg.CTFAddress)
		callData, err = ctfABI.Pack("redeemPositions",
			common.HexToAddress(r.cfg.USDCAddress),
			[32]byte{},
			condition,
			[]*big.Int{big.NewInt(1), big.NewInt(2)},
		)
	}
	if err != nil {
		return "", fmt.Errorf("settlement: pack calldata: %w", err)
	}

	tx, err := r.sendTransaction(ctx, to, callData)
	if err != nil {
		return "", err
	}

	txHash := tx.Hash()
	r.logger.Info("redeem transaction sent",
		slog.String("market", claim.Slug),
		slog.String("condition_id", claim.ConditionID),
		slog.Bool("neg_risk", claim.NegRisk),
		slog.String("tx", txHash.Hex()),
	)

	receiptCtx, cancel := context.WithTimeout(ctx, receiptWait)
	defer cancel()
	receipt, err := r.waitForReceipt(receiptCtx, txHash)
	if err != nil {
		return "", fmt.Errorf("settlement: wait receipt %s: %w", txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("settlement: redeem tx reverted: %s", txHash.Hex())
	}

	r.logger.Info("redeem confirmed",
		slog.String("market", claim.Slug),
		slog.String("tx", txHash.Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return txHash.Hex(), nil
}

// sendTransaction estimates gas, signs and broadcasts a legacy transaction.
func (r *Redeemer) sendTransaction(ctx context.Context, to common.Address, callData []byte) (*types.Transaction, error) {
	nonce, err := r.client.PendingNonceAt(ctx, r.address)
	if err != nil {
		return nil, fmt.Errorf("settlement: nonce: %w", err)
	}

	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("settlement: gas price: %w", err)
	}

	gasLimit, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     r.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gasLimit = redeemGasLimit
		r.logger.Warn("gas estimate failed, using fallback limit",
			slog.String("error", err.Error()),
			slog.Uint64("limit", gasLimit),
		)
	}
	gasLimit = gasLimit * uint64(100+r.cfg.GasLimitBump) / 100

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(int64(r.cfg.ChainID))), r.key)
	if err != nil {
		return nil, fmt.Errorf("settlement: sign tx: %w", err)
	}

	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("settlement: send tx: %w", err)
	}
	return signed, nil
}

func (r *Redeemer) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := r.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

func hexToBytes32(s string) ([32]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return [32]byte{}, err
	}
	if len(b) != 32 {
		return [32]byte{}, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}
