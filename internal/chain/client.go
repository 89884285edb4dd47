package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
	"github.com/linktum-network/matrix-service/pkg/logger"
)

// Signer signs outgoing transactions. A nil signer leaves the client
// read-only.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// PrivateKeySigner signs with an in-process secp256k1 key.
type PrivateKeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewPrivateKeySigner parses a hex-encoded private key.
func NewPrivateKeySigner(hexKey string) (*PrivateKeySigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &PrivateKeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *PrivateKeySigner) Address() common.Address { return s.addr }

func (s *PrivateKeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// Config holds client construction parameters.
type Config struct {
	RPCURL        string
	MatrixAddress common.Address
	TokenAddress  common.Address
	Signer        Signer // nil for read-only

	// ReadsPerSecond bounds outgoing read calls; zero disables limiting.
	ReadsPerSecond int
	ReadBurst      int

	// ConfirmInterval is the receipt polling cadence; default 2s.
	ConfirmInterval time.Duration
}

// Client implements Gateway against an EVM node.
type Client struct {
	eth     *ethclient.Client
	cfg     Config
	chainID *big.Int
	limiter *rate.Limiter
	log     *logger.Logger
}

var _ Gateway = (*Client)(nil)

// Dial connects to the RPC endpoint and resolves the chain id.
func Dial(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if cfg.MatrixAddress == (common.Address{}) || cfg.TokenAddress == (common.Address{}) {
		return nil, fmt.Errorf("matrix and token contract addresses required")
	}
	if log == nil {
		log = logger.NewDefault("chain")
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 2 * time.Second
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.ReadsPerSecond > 0 {
		burst := cfg.ReadBurst
		if burst <= 0 {
			burst = cfg.ReadsPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ReadsPerSecond), burst)
	}

	return &Client{eth: eth, cfg: cfg, chainID: chainID, limiter: limiter, log: log}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

func (c *Client) SignerAddress() (common.Address, bool) {
	if c.cfg.Signer == nil {
		return common.Address{}, false
	}
	return c.cfg.Signer.Address(), true
}

// call performs a rate-limited eth_call and returns the unpacked outputs.
func (c *Client) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	output, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := parsed.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// submit packs, signs and sends one transaction and returns its pending
// handle.
func (c *Client) submit(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) (PendingWrite, error) {
	if c.cfg.Signer == nil {
		return nil, fmt.Errorf("no signer configured")
	}
	from := c.cfg.Signer.Address()

	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Data: input})
	if err != nil {
		return nil, fmt.Errorf("estimate gas for %s: %w", method, err)
	}

	tx := types.NewTransaction(nonce, contract, new(big.Int), gasLimit, gasPrice, input)
	signed, err := c.cfg.Signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", method, err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	c.log.WithField("method", method).WithField("tx", signed.Hash().Hex()).Info("transaction submitted")
	return &pendingWrite{client: c, hash: signed.Hash()}, nil
}

// --- Matrix reads -----------------------------------------------------------

func (c *Client) IsRegistered(ctx context.Context, addr common.Address) (bool, error) {
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "registered", addr)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *Client) UserInfo(ctx context.Context, addr common.Address) (UserInfo, error) {
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "getUserInfo", addr)
	if err != nil {
		return UserInfo{}, err
	}
	regTime := out[2].(*big.Int)
	return UserInfo{
		ID:               out[0].(*big.Int).Uint64(),
		Referrer:         out[1].(common.Address),
		RegistrationTime: time.Unix(regTime.Int64(), 0).UTC(),
		PartnersCount:    out[3].(*big.Int).Uint64(),
	}, nil
}

// LevelCosts returns the 12 level costs. The contract keeps one cost table
// shared by both programs; the program argument exists for interface
// symmetry with ledgers that price programs separately.
func (c *Client) LevelCosts(ctx context.Context, _ matrix.Program) ([]*big.Int, error) {
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "getLevelCosts")
	if err != nil {
		return nil, err
	}
	return out[0].([]*big.Int), nil
}

func (c *Client) LevelCost(ctx context.Context, program matrix.Program, level int) (*big.Int, error) {
	if err := matrix.ValidateLevel(level); err != nil {
		return nil, err
	}
	costs, err := c.LevelCosts(ctx, program)
	if err != nil {
		return nil, err
	}
	if level > len(costs) {
		return nil, fmt.Errorf("contract returned %d level costs, need level %d", len(costs), level)
	}
	return costs[level-1], nil
}

func (c *Client) IsLevelActive(ctx context.Context, addr common.Address, program matrix.Program, level int) (bool, error) {
	if err := matrix.ValidateLevel(level); err != nil {
		return false, err
	}
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "isLevelActive", addr, uint8(program), uint8(level))
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *Client) ActiveLevels(ctx context.Context, addr common.Address, program matrix.Program) (matrix.LevelSet, error) {
	var set matrix.LevelSet
	for level := 1; level <= matrix.MaxLevel; level++ {
		active, err := c.IsLevelActive(ctx, addr, program, level)
		if err != nil {
			return matrix.LevelSet{}, err
		}
		set[level] = active
	}
	return set, nil
}

func (c *Client) MatrixInfo(ctx context.Context, addr common.Address, program matrix.Program, level int) (MatrixInfo, error) {
	if err := matrix.ValidateLevel(level); err != nil {
		return MatrixInfo{}, err
	}
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "getMatrixInfo", addr, uint8(program), uint8(level))
	if err != nil {
		return MatrixInfo{}, err
	}
	return MatrixInfo{
		CurrentReferrer: out[0].(common.Address),
		Blocked:         out[1].(bool),
		ReinvestCount:   out[2].(*big.Int).Uint64(),
	}, nil
}

// MatrixReferrals returns occupant addresses per tier, trimmed to the
// program's tier count (the contract always returns three lines; x4 uses
// two).
func (c *Client) MatrixReferrals(ctx context.Context, addr common.Address, program matrix.Program, level int) ([][]common.Address, error) {
	if err := matrix.ValidateLevel(level); err != nil {
		return nil, err
	}
	layout, err := matrix.TierLayout(program)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "getMatrixReferrals", addr, uint8(program), uint8(level))
	if err != nil {
		return nil, err
	}

	lines := [][]common.Address{
		out[0].([]common.Address),
		out[1].([]common.Address),
		out[2].([]common.Address),
	}
	return lines[:len(layout)], nil
}

func (c *Client) ProgramEarnings(ctx context.Context, addr common.Address, program matrix.Program) (*big.Int, error) {
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "getProgramEarnings", addr, uint8(program))
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) DirectReferrals(ctx context.Context, addr common.Address) ([]common.Address, error) {
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "getUserReferrals", addr)
	if err != nil {
		return nil, err
	}
	return out[0].([]common.Address), nil
}

func (c *Client) TotalUsers(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "totalUsers")
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

func (c *Client) TotalTurnover(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "totalTurnover")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) ContractActive(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "contractActive")
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, c.cfg.MatrixAddress, matrixABI, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// --- Token reads ------------------------------------------------------------

func (c *Client) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.cfg.TokenAddress, tokenABI, "balanceOf", addr)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) TokenAllowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.cfg.TokenAddress, tokenABI, "allowance", owner, c.cfg.MatrixAddress)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) TokenSymbol(ctx context.Context) (string, error) {
	out, err := c.call(ctx, c.cfg.TokenAddress, tokenABI, "symbol")
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

// --- Writes -----------------------------------------------------------------

func (c *Client) Approve(ctx context.Context, amount *big.Int) (PendingWrite, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("approve amount must be positive")
	}
	return c.submit(ctx, c.cfg.TokenAddress, tokenABI, "approve", c.cfg.MatrixAddress, amount)
}

func (c *Client) Register(ctx context.Context, referrer common.Address) (PendingWrite, error) {
	return c.submit(ctx, c.cfg.MatrixAddress, matrixABI, "register", referrer)
}

func (c *Client) BuyLevel(ctx context.Context, program matrix.Program, level int) (PendingWrite, error) {
	if err := matrix.ValidateLevel(level); err != nil {
		return nil, err
	}
	return c.submit(ctx, c.cfg.MatrixAddress, matrixABI, "buyLevel", uint8(program), uint8(level))
}

func (c *Client) PauseContract(ctx context.Context) (PendingWrite, error) {
	return c.submit(ctx, c.cfg.MatrixAddress, matrixABI, "pauseContract")
}

func (c *Client) ActivateContract(ctx context.Context) (PendingWrite, error) {
	return c.submit(ctx, c.cfg.MatrixAddress, matrixABI, "activateContract")
}

func (c *Client) UpdateLevelCost(ctx context.Context, level int, cost *big.Int) (PendingWrite, error) {
	if err := matrix.ValidateLevel(level); err != nil {
		return nil, err
	}
	if cost == nil || cost.Sign() <= 0 {
		return nil, fmt.Errorf("cost must be positive")
	}
	return c.submit(ctx, c.cfg.MatrixAddress, matrixABI, "updateLevelCost", uint8(level), cost)
}

func (c *Client) EmergencyWithdraw(ctx context.Context, amount *big.Int) (PendingWrite, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return c.submit(ctx, c.cfg.MatrixAddress, matrixABI, "emergencyWithdraw", amount)
}
