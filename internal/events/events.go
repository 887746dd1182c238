package events

import (
	"time"

	"dex-stream-sol/internal/consts"
	"dex-stream-sol/internal/types"
)

// TxType 表示解码后的交易语义类型
type TxType int

const (
	TxUnknown TxType = iota
	TxCreate
	TxBuy
	TxSell
	TxAddLiquidity
	TxRemoveLiquidity
)

var txTypeNames = []string{
	"unknown",
	"create",
	"buy",
	"sell",
	"add_liquidity",
	"remove_liquidity",
}

func (t TxType) String() string {
	if t >= 0 && int(t) < len(txTypeNames) {
		return txTypeNames[t]
	}
	return txTypeNames[0]
}

// ParsedTransaction 是单条链上交易解码后的不可变结果。
// AmountToken / AmountSol 为 nil 表示没有超过噪声阈值的可信余额差。
type ParsedTransaction struct {
	Signature string          // base58 编码的 64 字节签名，链上唯一
	Slot      uint64          // 跨重连不保证全局有序
	Platform  consts.Platform // 归属平台
	Type      TxType          // 指令语义类型

	TokenMint   types.Pubkey // 可选：交易涉及的 mint
	PoolAddress types.Pubkey // 可选：池子 / bonding curve 主账户
	Wallet      types.Pubkey // 可选：fee payer / 用户钱包

	AmountToken *uint64 // 实际成交 token 数量（raw 单位）
	AmountSol   *uint64 // 实际成交 SOL 数量（lamports）

	Success   bool
	BlockTime int64
}

// TokenEvent 新 token 创建事件（create 交易衍生）
type TokenEvent struct {
	Tx      *ParsedTransaction
	Mint    types.Pubkey
	Creator types.Pubkey

	// 以下字段来自 pumpfun Anchor 事件日志，其它平台可能为空
	Name   string
	Symbol string
	Uri    string
}

// SwapEvent buy / sell 交易衍生事件
type SwapEvent struct {
	Tx    *ParsedTransaction
	IsBuy bool
}

// LiquidityEvent add / remove liquidity 交易衍生事件
type LiquidityEvent struct {
	Tx    *ParsedTransaction
	IsAdd bool
}

// PoolInfo 是池子注册表中的单条记录。
// 刷新路径整体替换记录（refresh-then-swap），读者不会看到半新半旧的储备值。
type PoolInfo struct {
	PoolAddress  types.Pubkey
	Dex          string
	BaseMint     types.Pubkey
	QuoteMint    types.Pubkey
	BaseReserve  uint64 // raw 整数单位
	QuoteReserve uint64
	LiquidityUsd float64 // 可选，REST 服务返回时填充
	UpdatedAt    time.Time
}

// PoolUpdate 池子变更的时点 diff 事件，仅在储备发生变化时发出，发出后不再修改。
type PoolUpdate struct {
	PoolAddress     types.Pubkey
	PriceChange     float64 // 百分比；前值储备为 0 时报 0
	LiquidityChange float64
	Current         PoolInfo
	Previous        PoolInfo
	Slot            uint64
	Timestamp       time.Time
}

// MonitorMode PoolMonitor 的运行模式
type MonitorMode string

const (
	ModeDisabled MonitorMode = "disabled"
	ModeGrpc     MonitorMode = "grpc"
	ModePolling  MonitorMode = "polling"
	ModeHybrid   MonitorMode = "hybrid"
)

// MonitoringStatus 按需重算的状态视图，不做持久化
type MonitoringStatus struct {
	Mode           MonitorMode
	IsHealthy      bool
	LastUpdateTime time.Time
	ErrorCount     uint64
	PoolCount      int
}

// ConnEvent 连接状态事件（connected / disconnected）
type ConnEvent struct {
	Endpoint string
	At       time.Time
}

// ComponentStream gRPC 流组件在 ErrorEvent.Component 中的标识
const ComponentStream = "stream"

// ErrorEvent 终止性错误事件（重连预算耗尽等）
type ErrorEvent struct {
	Component string
	Err       error
	Terminal  bool
}
