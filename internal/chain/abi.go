package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments for the two contracts, limited to what the client
// actually calls and decodes.

const matrixABIJSON = `[
  {"type":"function","name":"registered","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"getUserInfo","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"id","type":"uint256"},{"name":"referrer","type":"address"},{"name":"registrationTime","type":"uint256"},{"name":"partnersCount","type":"uint256"}]},
  {"type":"function","name":"getLevelCosts","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256[]"}]},
  {"type":"function","name":"isLevelActive","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"program","type":"uint8"},{"name":"level","type":"uint8"}],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"getMatrixInfo","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"program","type":"uint8"},{"name":"level","type":"uint8"}],"outputs":[{"name":"currentReferrer","type":"address"},{"name":"blocked","type":"bool"},{"name":"reinvestCount","type":"uint256"}]},
  {"type":"function","name":"getMatrixReferrals","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"program","type":"uint8"},{"name":"level","type":"uint8"}],"outputs":[{"name":"firstLine","type":"address[]"},{"name":"secondLine","type":"address[]"},{"name":"thirdLine","type":"address[]"}]},
  {"type":"function","name":"getProgramEarnings","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"program","type":"uint8"}],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"getUserReferrals","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"type":"address[]"}]},
  {"type":"function","name":"totalUsers","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"totalTurnover","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"contractActive","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
  {"type":"function","name":"register","stateMutability":"nonpayable","inputs":[{"name":"referrer","type":"address"}],"outputs":[]},
  {"type":"function","name":"buyLevel","stateMutability":"nonpayable","inputs":[{"name":"program","type":"uint8"},{"name":"level","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"pauseContract","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"activateContract","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"updateLevelCost","stateMutability":"nonpayable","inputs":[{"name":"level","type":"uint8"},{"name":"cost","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"emergencyWithdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"Registration","inputs":[{"name":"user","type":"address","indexed":true},{"name":"referrer","type":"address","indexed":true},{"name":"userId","type":"uint256","indexed":false}],"anonymous":false},
  {"type":"event","name":"PaymentSent","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"program","type":"uint8","indexed":false},{"name":"level","type":"uint8","indexed":false},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false},
  {"type":"event","name":"LevelActivated","inputs":[{"name":"user","type":"address","indexed":true},{"name":"program","type":"uint8","indexed":false},{"name":"level","type":"uint8","indexed":false},{"name":"cost","type":"uint256","indexed":false}],"anonymous":false},
  {"type":"event","name":"MatrixClosed","inputs":[{"name":"user","type":"address","indexed":true},{"name":"program","type":"uint8","indexed":false},{"name":"level","type":"uint8","indexed":false},{"name":"reinvestCount","type":"uint256","indexed":false}],"anonymous":false},
  {"type":"event","name":"MatrixOverflow","inputs":[{"name":"user","type":"address","indexed":true},{"name":"referrer","type":"address","indexed":true},{"name":"program","type":"uint8","indexed":false},{"name":"level","type":"uint8","indexed":false}],"anonymous":false}
]`

const tokenABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]}
]`

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

var (
	matrixABI = mustParseABI(matrixABIJSON)
	tokenABI  = mustParseABI(tokenABIJSON)
)
