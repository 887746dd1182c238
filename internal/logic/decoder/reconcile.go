package decoder

import (
	"sort"

	"dex-stream-sol/internal/consts"
	"dex-stream-sol/internal/types"
)

// 金额恢复：指令参数反映的是请求值而非成交值（滑点、部分成交、路由都会偏离），
// 因此统一从交易前后余额快照求差。

func absDiff(pre, post uint64) uint64 {
	if post >= pre {
		return post - pre
	}
	return pre - post
}

// ReconcileSolAmount 计算 wallet 的 SOL 余额差（lamports）。
// 低于 DustSolThreshold 的差值视为手续费噪声，返回 nil。
func ReconcileSolAmount(tx *AdaptedTx, wallet types.Pubkey) *uint64 {
	bal, ok := tx.SolBalances[wallet]
	if !ok {
		return nil
	}
	delta := absDiff(bal.PreBalance, bal.PostBalance)
	if delta < consts.DustSolThreshold {
		return nil
	}
	return &delta
}

// SolDeltaSign 返回 wallet SOL 余额变动方向：-1 支出、+1 收入、0 无显著变动。
// Raydium V4 的 swap 指令不携带方向，由此推断买卖（支出 SOL ⇒ 买入）。
func SolDeltaSign(tx *AdaptedTx, wallet types.Pubkey) int {
	bal, ok := tx.SolBalances[wallet]
	if !ok {
		return 0
	}
	delta := absDiff(bal.PreBalance, bal.PostBalance)
	if delta < consts.DustSolThreshold {
		return 0
	}
	if bal.PostBalance < bal.PreBalance {
		return -1
	}
	return 1
}

// ReconcileTokenAmount 计算 (mint, wallet) 的 token 余额差。
// 优先按 owner 精确匹配；没有命中时退化为该 mint 的任意余额记录，
// 按 accountIndex 升序取第一条有变动的（owner 缺失的老交易格式兜底）。
func ReconcileTokenAmount(tx *AdaptedTx, mint, wallet types.Pubkey) *uint64 {
	if mint.IsZero() {
		return nil
	}

	// 1. owner + mint 精确匹配
	for _, tb := range tx.TokenBalances {
		if tb.Token == mint && tb.Owner == wallet {
			if delta := absDiff(tb.PreBalance, tb.PostBalance); delta > 0 {
				return &delta
			}
		}
	}

	// 2. 兜底：同 mint 任意记录，按账户位置排序保证确定性
	candidates := make([]*TokenBalance, 0, 4)
	for _, tb := range tx.TokenBalances {
		if tb.Token == mint {
			candidates = append(candidates, tb)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].AccountIndex < candidates[j].AccountIndex
	})
	for _, tb := range candidates {
		if delta := absDiff(tb.PreBalance, tb.PostBalance); delta > 0 {
			return &delta
		}
	}
	return nil
}

// ResolveMint 确定交易涉及的 mint。
// 布局已知时直接取指令账户位；否则（Raydium V4）从余额快照中找
// wallet 名下变动的非报价币 mint，按账户位置取第一条。
func ResolveMint(tx *AdaptedTx, c Classified) types.Pubkey {
	if c.Layout.Mint >= 0 && c.Layout.Mint < len(c.Ix.Accounts) {
		return c.Ix.Accounts[c.Layout.Mint]
	}

	wallet := tx.FeePayer()
	candidates := make([]*TokenBalance, 0, 4)
	for _, tb := range tx.TokenBalances {
		if tb.Token == consts.WSOLMint || tb.Token == consts.USDCMint {
			continue
		}
		if absDiff(tb.PreBalance, tb.PostBalance) == 0 {
			continue
		}
		candidates = append(candidates, tb)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].AccountIndex < candidates[j].AccountIndex
	})

	// wallet 名下优先
	for _, tb := range candidates {
		if tb.Owner == wallet {
			return tb.Token
		}
	}
	if len(candidates) > 0 {
		return candidates[0].Token
	}
	return types.Pubkey{}
}
