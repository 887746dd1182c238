package decoder

import (
	"dex-stream-sol/internal/consts"
	"dex-stream-sol/internal/types"
	"dex-stream-sol/pkg/logger"

	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	"github.com/mr-tron/base58"
)

// PreScanInitAccountBalances 扫描 InitializeAccount 系指令，
// 补全 meta 余额数组中缺失的 TokenAccount → Mint → Owner 映射
//（同交易内新建并立刻交易的账户可能没有 pre 记录）。
func PreScanInitAccountBalances(tx *AdaptedTx) {
	for _, ix := range tx.Instructions {
		if !consts.IsSPLTokenProgram(ix.ProgramID) {
			continue
		}
		if len(ix.Data) == 0 {
			continue
		}

		switch ix.Data[0] {
		case byte(sdktoken.InstructionInitializeAccount),
			byte(sdktoken.InstructionInitializeAccount2),
			byte(sdktoken.InstructionInitializeAccount3):
			tryFillBalanceFromInitAccount(tx, ix)
		}
	}
}

func tryFillBalanceFromInitAccount(tx *AdaptedTx, ix *AdaptedInstruction) {
	var (
		mint, tokenAccount, owner types.Pubkey
		err                       error
	)

	switch ix.Data[0] {
	case byte(sdktoken.InstructionInitializeAccount):
		// Layout: accounts = [tokenAccount, mint, owner]
		if len(ix.Accounts) < 3 {
			return
		}
		tokenAccount = ix.Accounts[0]
		mint = ix.Accounts[1]
		owner = ix.Accounts[2]

	case byte(sdktoken.InstructionInitializeAccount2), byte(sdktoken.InstructionInitializeAccount3):
		// Layout: accounts = [tokenAccount, mint], owner in Data[1:33]
		if len(ix.Accounts) < 2 || len(ix.Data) < 33 {
			return
		}
		tokenAccount = ix.Accounts[0]
		mint = ix.Accounts[1]
		owner, err = types.PubkeyFromBytes(ix.Data[1:33])
		if err != nil {
			logger.Errorf("[prescan] tx=%s: bad owner pubkey in init-account data: %v, ixIndex=%d innerIndex=%d",
				base58.Encode(tx.Signature), err, ix.IxIndex, ix.InnerIndex)
			return
		}

	default:
		return
	}

	if _, found := tx.TokenBalances[tokenAccount]; found {
		return
	}

	// decimals 从同 mint 的已有余额记录借用；借不到就放弃，
	// 该账户不会参与金额恢复（只差映射信息没有意义）。
	var decimals uint8
	seen := false
	for _, tb := range tx.TokenBalances {
		if tb.Token == mint {
			decimals = tb.Decimals
			seen = true
			break
		}
	}
	if !seen {
		return
	}

	tx.TokenBalances[tokenAccount] = &TokenBalance{
		TokenAccount: tokenAccount,
		Token:        mint,
		Owner:        owner,
		Decimals:     decimals,
	}
}
