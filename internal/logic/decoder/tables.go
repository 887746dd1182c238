package decoder

import (
	"encoding/binary"

	"dex-stream-sol/internal/consts"
	"dex-stream-sol/internal/events"
	"dex-stream-sol/internal/types"
)

// Anchor 系平台的 8 字节方法判别符（指令 data 前 8 字节，big-endian 表示）。
// 判别符由方法名哈希派生，同名方法跨程序取值相同（如 pumpfun 与 moonshot 的 buy/sell）。
const (
	// Pump.fun bonding curve
	pumpCreate  uint64 = 0x181ec828051c0777
	pumpBuy     uint64 = 0x66063d1201daebea
	pumpSell    uint64 = 0x33e685a4017f83ad
	pumpMigrate uint64 = 0x9beae792ec9ea21e

	// Pump.fun AMM（PumpSwap，迁移后的池子）
	pumpAmmCreatePool uint64 = 0xe992d18ecf6840bc
	pumpAmmDeposit    uint64 = 0xf223c68952e1f2b6
	pumpAmmWithdraw   uint64 = 0xb712469c946da122

	// LetsBonk（Raydium LaunchLab）。create 存在两种编码：initialize 与 initialize_v2。
	bonkInitialize   uint64 = 0xafaf6d1f0d989bed
	bonkInitializeV2 uint64 = 0x4399af27da102620
	bonkBuyExactIn   uint64 = 0xfaea0d7bd59c13ec
	bonkBuyExactOut  uint64 = 0x18d3742869039938
	bonkSellExactIn  uint64 = 0x9527de9bd37c981a
	bonkSellExactOut uint64 = 0x5fc8472208090ba6

	// Moonshot
	moonTokenMint uint64 = 0x032ca4b87b54d840
	moonBuy       uint64 = 0x66063d1201daebea
	moonSell      uint64 = 0x33e685a4017f83ad
)

// Raydium V4 为非 Anchor 的 legacy AMM，指令类型由首字节整数标识。
// 来源：raydium-amm/program/src/instruction.rs
const (
	raydiumInitialize2 byte = 1
	raydiumDeposit     byte = 3
	raydiumWithdraw    byte = 4
	raydiumSwapBaseIn  byte = 9
	raydiumSwapBaseOut byte = 11
)

// classEntry 是判别符表中的一项。
// Directionless 表示该指令只能判定为 swap，买卖方向需由余额差符号决定（Raydium V4）。
type classEntry struct {
	Type          events.TxType
	Directionless bool
}

// anchorTables 按程序地址组织 8 字节判别符 → 指令语义。
// PumpFun 与 PumpFunAMM 程序不同、表不同，但同属 pumpfun 平台。
var anchorTables = map[types.Pubkey]map[uint64]classEntry{
	consts.PumpFunProgram: {
		pumpCreate: {Type: events.TxCreate},
		pumpBuy:    {Type: events.TxBuy},
		pumpSell:   {Type: events.TxSell},
	},
	consts.PumpFunAMMProgram: {
		pumpAmmCreatePool: {Type: events.TxCreate},
		pumpBuy:           {Type: events.TxBuy},
		pumpSell:          {Type: events.TxSell},
		pumpAmmDeposit:    {Type: events.TxAddLiquidity},
		pumpAmmWithdraw:   {Type: events.TxRemoveLiquidity},
	},
	consts.LetsBonkProgram: {
		bonkInitialize:   {Type: events.TxCreate},
		bonkInitializeV2: {Type: events.TxCreate},
		bonkBuyExactIn:   {Type: events.TxBuy},
		bonkBuyExactOut:  {Type: events.TxBuy},
		bonkSellExactIn:  {Type: events.TxSell},
		bonkSellExactOut: {Type: events.TxSell},
	},
	consts.MoonshotProgram: {
		moonTokenMint: {Type: events.TxCreate},
		moonBuy:       {Type: events.TxBuy},
		moonSell:      {Type: events.TxSell},
	},
}

// raydiumByteTable Raydium V4 首字节 → 指令语义
var raydiumByteTable = map[byte]classEntry{
	raydiumInitialize2: {Type: events.TxCreate},
	raydiumDeposit:     {Type: events.TxAddLiquidity},
	raydiumWithdraw:    {Type: events.TxRemoveLiquidity},
	raydiumSwapBaseIn:  {Type: events.TxBuy, Directionless: true},
	raydiumSwapBaseOut: {Type: events.TxBuy, Directionless: true},
}

// accountLayout 记录各平台指令账户表中关键账户的位置，-1 表示不在账户表中
//（此时由余额记录兜底解析）。
type accountLayout struct {
	Mint int
	Pool int
	User int
}

var noLayout = accountLayout{Mint: -1, Pool: -1, User: -1}

// programLayouts 按 (程序, 指令语义) 给出账户布局。
var programLayouts = map[types.Pubkey]map[events.TxType]accountLayout{
	consts.PumpFunProgram: {
		// create: #0 mint, #2 bonding curve, #7 用户钱包
		events.TxCreate: {Mint: 0, Pool: 2, User: 7},
		// buy/sell: #2 mint, #3 bonding curve, #6 用户钱包
		events.TxBuy:  {Mint: 2, Pool: 3, User: 6},
		events.TxSell: {Mint: 2, Pool: 3, User: 6},
	},
	consts.PumpFunAMMProgram: {
		events.TxCreate:          {Mint: 3, Pool: 0, User: 1},
		events.TxBuy:             {Mint: 3, Pool: 0, User: 1},
		events.TxSell:            {Mint: 3, Pool: 0, User: 1},
		events.TxAddLiquidity:    {Mint: 3, Pool: 0, User: 1},
		events.TxRemoveLiquidity: {Mint: 3, Pool: 0, User: 1},
	},
	consts.LetsBonkProgram: {
		// initialize: #0 payer, #5 pool state, #6 base mint
		events.TxCreate: {Mint: 6, Pool: 5, User: 0},
		// buy/sell exact in/out: #0 payer, #4 pool state, #9 base mint
		events.TxBuy:  {Mint: 9, Pool: 4, User: 0},
		events.TxSell: {Mint: 9, Pool: 4, User: 0},
	},
	consts.MoonshotProgram: {
		// token_mint: #0 sender, #2 curve, #3 mint
		events.TxCreate: {Mint: 3, Pool: 2, User: 0},
		// buy/sell: #0 sender, #2 curve, #6 mint
		events.TxBuy:  {Mint: 6, Pool: 2, User: 0},
		events.TxSell: {Mint: 6, Pool: 2, User: 0},
	},
	consts.RaydiumV4Program: {
		// swap: #1 AMM 主账户；mint 与用户钱包不在固定位，走余额兜底
		events.TxCreate:          {Mint: -1, Pool: 4, User: -1},
		events.TxBuy:             {Mint: -1, Pool: 1, User: -1},
		events.TxSell:            {Mint: -1, Pool: 1, User: -1},
		events.TxAddLiquidity:    {Mint: -1, Pool: 1, User: -1},
		events.TxRemoveLiquidity: {Mint: -1, Pool: 1, User: -1},
	},
}

// Classified 指令分类结果
type Classified struct {
	Platform      consts.Platform
	Type          events.TxType
	Directionless bool
	Ix            *AdaptedInstruction
	Layout        accountLayout
}

// DetectPlatform 扫描账户表做集合成员判定，与账户顺序无关；命中即返回。
func DetectPlatform(tx *AdaptedTx) consts.Platform {
	for _, key := range tx.AccountKeys {
		if p, ok := consts.PlatformPrograms[key]; ok {
			return p
		}
	}
	return consts.PlatformUnknown
}

// ClassifyInstruction 对单条指令做判别符匹配。
// Anchor 系程序比对前 8 字节（big-endian uint64），Raydium V4 比对首字节。
func ClassifyInstruction(ix *AdaptedInstruction) (Classified, bool) {
	if ix.ProgramID == consts.RaydiumV4Program {
		if len(ix.Data) == 0 {
			return Classified{}, false
		}
		entry, ok := raydiumByteTable[ix.Data[0]]
		if !ok {
			return Classified{}, false
		}
		return Classified{
			Platform:      consts.PlatformRaydium,
			Type:          entry.Type,
			Directionless: entry.Directionless,
			Ix:            ix,
			Layout:        layoutFor(ix.ProgramID, entry.Type),
		}, true
	}

	table, ok := anchorTables[ix.ProgramID]
	if !ok {
		return Classified{}, false
	}
	if len(ix.Data) < 8 {
		return Classified{}, false
	}
	entry, ok := table[binary.BigEndian.Uint64(ix.Data[:8])]
	if !ok {
		return Classified{}, false
	}
	return Classified{
		Platform:      consts.PlatformPrograms[ix.ProgramID],
		Type:          entry.Type,
		Directionless: entry.Directionless,
		Ix:            ix,
		Layout:        layoutFor(ix.ProgramID, entry.Type),
	}, true
}

// ClassifyTx 按程序顺序遍历全部指令，第一条命中的指令决定交易类型。
func ClassifyTx(tx *AdaptedTx) (Classified, bool) {
	for _, ix := range tx.Instructions {
		if c, ok := ClassifyInstruction(ix); ok {
			return c, true
		}
	}
	return Classified{}, false
}

func layoutFor(program types.Pubkey, t events.TxType) accountLayout {
	if m, ok := programLayouts[program]; ok {
		if l, ok := m[t]; ok {
			return l
		}
	}
	return noLayout
}
