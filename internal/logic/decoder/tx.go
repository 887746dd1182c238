package decoder

import (
	"dex-stream-sol/internal/types"
)

// AdaptedInstruction 表示一条主指令或 inner 指令。
// 预处理阶段已按执行顺序展平，并补充位置信息，便于顺序遍历与事件定位。
type AdaptedInstruction struct {
	IxIndex    uint16         // 主指令索引（从 0 开始）
	InnerIndex uint16         // inner 指令序号，主指令本身为 0，CPI 从 1 开始
	ProgramID  types.Pubkey   // 指令对应的程序 ID
	Accounts   []types.Pubkey // 指令涉及的账户列表，保持原始顺序
	Data       []byte         // 指令原始数据
}

// SolBalance 某账户在交易执行前后的 SOL 余额快照
type SolBalance struct {
	Account     types.Pubkey
	PreBalance  uint64 // lamports
	PostBalance uint64
}

// TokenBalance 某 SPL Token 账户在交易执行前后的余额快照
type TokenBalance struct {
	AccountIndex uint32 // 账户在 accountKeys 中的位置（owner 缺失时按索引兜底匹配）
	TokenAccount types.Pubkey
	Token        types.Pubkey // mint
	Owner        types.Pubkey
	Decimals     uint8
	PreBalance   uint64 // raw 最小单位
	PostBalance  uint64
}

// AdaptedTx 是解码流程的核心输入：展平指令 + 账户表 + 前后余额。
type AdaptedTx struct {
	Slot      uint64
	BlockTime int64
	Signature []byte // 64 字节原始签名
	Success   bool   // Meta.Err == nil

	// AccountKeys 为完整账户表（message.accountKeys + address lookup 的
	// writable / readonly 段），与 meta 中余额数组按位置对齐。
	AccountKeys []types.Pubkey

	// Instructions 含主指令与 inner 指令，已按 Solana 执行顺序展平。
	Instructions []*AdaptedInstruction

	// SolBalances 以账户地址为 key 的 SOL 余额快照。
	SolBalances map[types.Pubkey]*SolBalance

	// TokenBalances 以 token account 为 key 的 SPL 余额快照。
	TokenBalances map[types.Pubkey]*TokenBalance

	LogMessages []string
}

// FeePayer 交易的手续费支付者（账户表首位）
func (tx *AdaptedTx) FeePayer() types.Pubkey {
	if len(tx.AccountKeys) == 0 {
		return types.Pubkey{}
	}
	return tx.AccountKeys[0]
}

// HasProgram 账户表是否包含指定程序地址（平台检测用，与顺序无关）
func (tx *AdaptedTx) HasProgram(p types.Pubkey) bool {
	for _, k := range tx.AccountKeys {
		if k == p {
			return true
		}
	}
	return false
}
