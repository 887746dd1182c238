package decoder

import (
	"testing"

	"dex-stream-sol/internal/consts"
	"dex-stream-sol/internal/events"
	"dex-stream-sol/internal/types"

	"github.com/near/borsh-go"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePumpFunBuy(t *testing.T) {
	wallet := testPubkey(0x01)
	mint := testPubkey(0x10)
	curve := testPubkey(0x11)
	tokenAcct := testPubkey(0x20)
	filler := testPubkey(0x30)

	tx := &AdaptedTx{
		Slot:        123,
		Signature:   make([]byte, 64),
		Success:     true,
		AccountKeys: []types.Pubkey{wallet, mint, curve, consts.PumpFunProgram, tokenAcct},
		Instructions: []*AdaptedInstruction{{
			ProgramID: consts.PumpFunProgram,
			// buy 布局：#2 mint, #3 bonding curve, #6 用户钱包
			Accounts: []types.Pubkey{filler, filler, mint, curve, filler, filler, wallet},
			Data:     be8(pumpBuy),
		}},
		SolBalances: map[types.Pubkey]*SolBalance{
			wallet: {Account: wallet, PreBalance: 1_000_000_000, PostBalance: 990_000_000},
		},
		TokenBalances: map[types.Pubkey]*TokenBalance{
			tokenAcct: {AccountIndex: 4, TokenAccount: tokenAcct, Token: mint, Owner: wallet, PreBalance: 0, PostBalance: 1_000_000},
		},
	}

	d := NewDecoder(events.NewBus())
	parsed := d.decode(tx)

	assert.Equal(t, consts.PlatformPumpFun, parsed.Platform)
	assert.Equal(t, events.TxBuy, parsed.Type)
	assert.Equal(t, mint, parsed.TokenMint)
	assert.Equal(t, curve, parsed.PoolAddress)
	assert.Equal(t, wallet, parsed.Wallet)

	require.NotNil(t, parsed.AmountSol)
	assert.Equal(t, uint64(10_000_000), *parsed.AmountSol)
	require.NotNil(t, parsed.AmountToken)
	assert.Equal(t, uint64(1_000_000), *parsed.AmountToken)
}

func TestDecodeRaydiumSwapDirection(t *testing.T) {
	wallet := testPubkey(0x01)
	pool := testPubkey(0x12)
	mint := testPubkey(0x10)
	tokenAcct := testPubkey(0x20)

	// SwapBaseIn 不携带方向，由钱包 SOL 余额差符号决定买卖
	build := func(pre, post uint64) *AdaptedTx {
		return &AdaptedTx{
			Signature:   make([]byte, 64),
			Success:     true,
			AccountKeys: []types.Pubkey{wallet, pool, consts.RaydiumV4Program},
			Instructions: []*AdaptedInstruction{{
				ProgramID: consts.RaydiumV4Program,
				Accounts:  []types.Pubkey{testPubkey(0x30), pool},
				Data:      []byte{raydiumSwapBaseIn, 1, 2, 3},
			}},
			SolBalances: map[types.Pubkey]*SolBalance{
				wallet: {Account: wallet, PreBalance: pre, PostBalance: post},
			},
			TokenBalances: map[types.Pubkey]*TokenBalance{
				tokenAcct: {AccountIndex: 3, TokenAccount: tokenAcct, Token: mint, Owner: wallet, PreBalance: 0, PostBalance: 500},
			},
		}
	}

	d := NewDecoder(events.NewBus())

	t.Run("sol spent means buy", func(t *testing.T) {
		parsed := d.decode(build(1_000_000_000, 900_000_000))
		assert.Equal(t, consts.PlatformRaydium, parsed.Platform)
		assert.Equal(t, events.TxBuy, parsed.Type)
		assert.Equal(t, pool, parsed.PoolAddress)
		assert.Equal(t, mint, parsed.TokenMint) // 余额兜底解析
	})

	t.Run("sol received means sell", func(t *testing.T) {
		parsed := d.decode(build(900_000_000, 1_000_000_000))
		assert.Equal(t, events.TxSell, parsed.Type)
	})

	t.Run("fee noise keeps table default", func(t *testing.T) {
		parsed := d.decode(build(1_000_000_000, 1_000_000_000-5_000))
		assert.Equal(t, events.TxBuy, parsed.Type)
		assert.Nil(t, parsed.AmountSol)
	})
}

// buildCreateUpdate 构造一条完整的 pumpfun create 交易 wire update：
// 主指令 + Anchor 事件自调用指令 + 前后余额。
func buildCreateUpdate(t *testing.T, wallet, mint, curve types.Pubkey, failed bool) *pb.SubscribeUpdateTransaction {
	t.Helper()

	tokenAcct := testPubkey(0x20)
	accountKeys := [][]byte{wallet[:], mint[:], curve[:], consts.PumpFunProgram[:], tokenAcct[:]}

	payload, err := borsh.Serialize(PumpCreateEvent{
		Sign:         0x1b72a94ddeeb6376,
		Name:         "Test Token",
		Symbol:       "TEST",
		Uri:          "https://example.com/meta.json",
		Mint:         mint,
		BondingCurve: curve,
		User:         wallet,
		Creator:      wallet,
	})
	require.NoError(t, err)

	meta := &pb.TransactionStatusMeta{
		PreBalances:  []uint64{2_000_000_000, 0, 0, 0, 0},
		PostBalances: []uint64{1_950_000_000, 0, 0, 0, 0},
		PostTokenBalances: []*pb.TokenBalance{{
			AccountIndex: 4,
			Mint:         mint.String(),
			Owner:        wallet.String(),
			UiTokenAmount: &pb.UiTokenAmount{
				Amount:   "1000000000",
				Decimals: 6,
			},
		}},
	}
	if failed {
		meta.Err = &pb.TransactionError{Err: []byte{1}}
	}

	return &pb.SubscribeUpdateTransaction{
		Slot: 555,
		Transaction: &pb.SubscribeUpdateTransactionInfo{
			Signature: make([]byte, 64),
			Transaction: &pb.Transaction{
				Message: &pb.Message{
					AccountKeys: accountKeys,
					Instructions: []*pb.CompiledInstruction{
						{
							ProgramIdIndex: 3,
							// create 布局：#0 mint, #2 bonding curve, #7 用户钱包
							Accounts: []byte{1, 0, 2, 0, 0, 0, 0, 0},
							Data:     be8(pumpCreate),
						},
						{
							ProgramIdIndex: 3,
							Data:           append(anchorEventTag[:], payload...),
						},
					},
				},
			},
			Meta: meta,
		},
	}
}

func TestHandleTransactionCreateEndToEnd(t *testing.T) {
	wallet := testPubkey(0x01)
	mint := testPubkey(0x10)
	curve := testPubkey(0x11)

	bus := events.NewBus()
	var txs []*events.ParsedTransaction
	var tokens []*events.TokenEvent
	bus.Transaction.Subscribe(func(tx *events.ParsedTransaction) { txs = append(txs, tx) })
	bus.NewToken.Subscribe(func(ev *events.TokenEvent) { tokens = append(tokens, ev) })

	d := NewDecoder(bus)
	d.HandleTransaction(buildCreateUpdate(t, wallet, mint, curve, false))

	require.Len(t, txs, 1)
	parsed := txs[0]
	assert.Equal(t, uint64(555), parsed.Slot)
	assert.Equal(t, consts.PlatformPumpFun, parsed.Platform)
	assert.Equal(t, events.TxCreate, parsed.Type)
	assert.Equal(t, mint, parsed.TokenMint)
	assert.Equal(t, curve, parsed.PoolAddress)
	assert.True(t, parsed.Success)
	require.NotNil(t, parsed.AmountSol)
	assert.Equal(t, uint64(50_000_000), *parsed.AmountSol)

	// 事件日志补全 token 元数据
	require.Len(t, tokens, 1)
	assert.Equal(t, mint, tokens[0].Mint)
	assert.Equal(t, wallet, tokens[0].Creator)
	assert.Equal(t, "Test Token", tokens[0].Name)
	assert.Equal(t, "TEST", tokens[0].Symbol)
	assert.Equal(t, "https://example.com/meta.json", tokens[0].Uri)

	seen, decoded, dropped := d.Counters()
	assert.Equal(t, uint64(1), seen)
	assert.Equal(t, uint64(1), decoded)
	assert.Equal(t, uint64(0), dropped)
}

func TestHandleTransactionFailedTxNoDerivedEvents(t *testing.T) {
	wallet := testPubkey(0x01)
	mint := testPubkey(0x10)
	curve := testPubkey(0x11)

	bus := events.NewBus()
	var txs []*events.ParsedTransaction
	var tokens []*events.TokenEvent
	bus.Transaction.Subscribe(func(tx *events.ParsedTransaction) { txs = append(txs, tx) })
	bus.NewToken.Subscribe(func(ev *events.TokenEvent) { tokens = append(tokens, ev) })

	d := NewDecoder(bus)
	d.HandleTransaction(buildCreateUpdate(t, wallet, mint, curve, true))

	// 失败交易仍然发 transaction 事件，但不派生 newToken
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Success)
	assert.Empty(t, tokens)
}

func TestHandleTransactionMalformed(t *testing.T) {
	bus := events.NewBus()
	var txs []*events.ParsedTransaction
	bus.Transaction.Subscribe(func(tx *events.ParsedTransaction) { txs = append(txs, tx) })

	d := NewDecoder(bus)

	d.HandleTransaction(nil)
	d.HandleTransaction(&pb.SubscribeUpdateTransaction{}) // Transaction 为 nil
	d.HandleTransaction(&pb.SubscribeUpdateTransaction{
		Transaction: &pb.SubscribeUpdateTransactionInfo{}, // 缺 message / meta
	})

	assert.Empty(t, txs)
	_, _, dropped := d.Counters()
	assert.Equal(t, uint64(1), dropped)
}
