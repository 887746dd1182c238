package decoder

import (
	"runtime/debug"
	"sync/atomic"

	"dex-stream-sol/internal/consts"
	"dex-stream-sol/internal/events"
	"dex-stream-sol/internal/types"
	"dex-stream-sol/pkg/logger"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// anchorEventTag 是 Anchor 事件自调用（self-CPI）指令 data 的固定前 8 字节
var anchorEventTag = [8]byte{0xe4, 0x45, 0xa5, 0x2e, 0x51, 0xcb, 0x9a, 0x1d}

// Decoder 将原始交易 update 解码为结构化事件并发布到事件总线。
// 解码过程中的任何异常只影响当前 update，绝不中断流。
type Decoder struct {
	bus *events.Bus

	txSeen    atomic.Uint64
	txDecoded atomic.Uint64
	txDropped atomic.Uint64
}

func NewDecoder(bus *events.Bus) *Decoder {
	return &Decoder{bus: bus}
}

// Counters 返回 (收到, 解码成功, 丢弃) 计数，供状态接口读取
func (d *Decoder) Counters() (seen, decoded, dropped uint64) {
	return d.txSeen.Load(), d.txDecoded.Load(), d.txDropped.Load()
}

// HandleTransaction 处理单条交易 update。
// 每个 wire update 恰好产出一条 ParsedTransaction（翻译失败时丢弃并记日志）。
func (d *Decoder) HandleTransaction(update *pb.SubscribeUpdateTransaction) {
	defer func() {
		if r := recover(); r != nil {
			d.txDropped.Add(1)
			logger.Errorf("[decoder] panic while decoding update: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	if update == nil || update.Transaction == nil {
		return
	}
	d.txSeen.Add(1)

	// 交易级订阅不携带 blockTime，置 0；下游需要时间时以接收时刻为准
	tx, err := TranslateTx(update.Slot, 0, update.Transaction)
	if err != nil {
		d.txDropped.Add(1)
		logger.Warnf("[decoder] drop malformed tx update: %v, slot=%d", err, update.Slot)
		return
	}

	parsed := d.decode(tx)
	d.txDecoded.Add(1)
	d.bus.Transaction.Publish(parsed)

	// 衍生事件只对执行成功的交易发出；失败交易的余额差没有经济意义
	if !parsed.Success {
		return
	}
	switch parsed.Type {
	case events.TxCreate:
		d.bus.NewToken.Publish(d.buildTokenEvent(tx, parsed))
	case events.TxBuy, events.TxSell:
		d.bus.Swap.Publish(&events.SwapEvent{Tx: parsed, IsBuy: parsed.Type == events.TxBuy})
	case events.TxAddLiquidity, events.TxRemoveLiquidity:
		d.bus.Liquidity.Publish(&events.LiquidityEvent{Tx: parsed, IsAdd: parsed.Type == events.TxAddLiquidity})
	}
}

// decode 三步流水：平台检测 → 指令分类 → 余额差金额恢复。
func (d *Decoder) decode(tx *AdaptedTx) *events.ParsedTransaction {
	parsed := &events.ParsedTransaction{
		Signature: base58.Encode(tx.Signature),
		Slot:      tx.Slot,
		Platform:  DetectPlatform(tx),
		Type:      events.TxUnknown,
		Success:   tx.Success,
		BlockTime: tx.BlockTime,
	}
	if parsed.Platform == consts.PlatformUnknown {
		return parsed
	}

	c, ok := ClassifyTx(tx)
	if !ok {
		return parsed
	}
	parsed.Type = c.Type

	// InitializeAccount 预扫描，补全同交易内新建 token 账户的映射
	PreScanInitAccountBalances(tx)

	wallet := tx.FeePayer()
	if c.Layout.User >= 0 && c.Layout.User < len(c.Ix.Accounts) {
		wallet = c.Ix.Accounts[c.Layout.User]
	}
	parsed.Wallet = wallet

	if c.Layout.Pool >= 0 && c.Layout.Pool < len(c.Ix.Accounts) {
		parsed.PoolAddress = c.Ix.Accounts[c.Layout.Pool]
	}
	parsed.TokenMint = ResolveMint(tx, c)

	// Raydium V4 swap 不携带方向：支出 SOL ⇒ 买入，收入 SOL ⇒ 卖出
	if c.Directionless {
		switch SolDeltaSign(tx, wallet) {
		case -1:
			parsed.Type = events.TxBuy
		case 1:
			parsed.Type = events.TxSell
		}
	}

	parsed.AmountSol = ReconcileSolAmount(tx, wallet)
	parsed.AmountToken = ReconcileTokenAmount(tx, parsed.TokenMint, wallet)
	return parsed
}

// PumpCreateEvent Pump.fun create 指令伴随的 Anchor 事件日志（borsh 编码）。
// Sign 字段即事件自身的 8 字节判别符。
type PumpCreateEvent struct {
	Sign         uint64
	Name         string
	Symbol       string
	Uri          string
	Mint         types.Pubkey
	BondingCurve types.Pubkey
	User         types.Pubkey
	Creator      types.Pubkey
}

// buildTokenEvent 构造 newToken 事件。
// pumpfun 平台尝试从事件日志指令补全 name/symbol/uri；其余平台只带链上可得字段。
func (d *Decoder) buildTokenEvent(tx *AdaptedTx, parsed *events.ParsedTransaction) *events.TokenEvent {
	ev := &events.TokenEvent{
		Tx:      parsed,
		Mint:    parsed.TokenMint,
		Creator: parsed.Wallet,
	}
	if parsed.Platform != consts.PlatformPumpFun {
		return ev
	}

	for _, ix := range tx.Instructions {
		if ix.ProgramID != consts.PumpFunProgram || len(ix.Data) < 16 {
			continue
		}
		if [8]byte(ix.Data[:8]) != anchorEventTag {
			continue
		}
		var payload PumpCreateEvent
		if err := borsh.Deserialize(&payload, ix.Data[8:]); err != nil {
			logger.Warnf("[decoder] pumpfun create event decode failed: %v, tx=%s", err, parsed.Signature)
			continue
		}
		// 事件内 mint 必须与指令账户一致，防止错绑到别的事件日志
		if payload.Mint != parsed.TokenMint {
			continue
		}
		ev.Name = payload.Name
		ev.Symbol = payload.Symbol
		ev.Uri = payload.Uri
		if !payload.Creator.IsZero() {
			ev.Creator = payload.Creator
		}
		break
	}
	return ev
}
