package decoder

import (
	"fmt"
	"strconv"

	"dex-stream-sol/internal/types"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// buildFullAccountKeys 构造交易中完整的账户 Pubkey 列表。
// message.accountKeys 与 Address Lookup Table 中的 writable / readonly 地址
// 顺序拼接为一个 []Pubkey 切片，供后续通过 accountIndex 索引。
func buildFullAccountKeys(accountKeys, loadedWritable, loadedReadonly [][]byte) ([]types.Pubkey, error) {
	total := len(accountKeys) + len(loadedWritable) + len(loadedReadonly)
	pubkeys := make([]types.Pubkey, total)

	i := 0
	for _, group := range [][][]byte{accountKeys, loadedWritable, loadedReadonly} {
		for _, b := range group {
			if len(b) != 32 {
				return nil, fmt.Errorf("invalid pubkey at account index %d: len=%d", i, len(b))
			}
			copy(pubkeys[i][:], b)
			i++
		}
	}
	return pubkeys, nil
}

// buildSolBalances 从 meta 的 pre/post lamports 数组（按账户位置索引）构造余额快照
func buildSolBalances(meta *pb.TransactionStatusMeta, accountKeys []types.Pubkey) map[types.Pubkey]*SolBalance {
	balances := make(map[types.Pubkey]*SolBalance, len(accountKeys))
	for i, key := range accountKeys {
		var pre, post uint64
		if i < len(meta.PreBalances) {
			pre = meta.PreBalances[i]
		}
		if i < len(meta.PostBalances) {
			post = meta.PostBalances[i]
		}
		balances[key] = &SolBalance{
			Account:     key,
			PreBalance:  pre,
			PostBalance: post,
		}
	}
	return balances
}

// buildTokenBalances 从 Pre/PostTokenBalances 提取标准 SPL Token 账户的余额状态。
// 先写 Post（最终状态），再补 Pre；仅出现在 Pre 的账户视为已销毁，Post 记 0。
func buildTokenBalances(meta *pb.TransactionStatusMeta, accountKeys []types.Pubkey) map[types.Pubkey]*TokenBalance {
	postList := meta.PostTokenBalances
	preList := meta.PreTokenBalances

	balances := make(map[types.Pubkey]*TokenBalance, len(postList)+len(preList))

	for _, post := range postList {
		if int(post.AccountIndex) >= len(accountKeys) {
			continue
		}
		mint, err := types.TryPubkeyFromBase58(post.Mint)
		if err != nil {
			continue
		}
		account := accountKeys[post.AccountIndex]
		owner, _ := types.TryPubkeyFromBase58(post.Owner)
		balances[account] = &TokenBalance{
			AccountIndex: post.AccountIndex,
			TokenAccount: account,
			Token:        mint,
			Owner:        owner,
			Decimals:     uint8(post.UiTokenAmount.Decimals),
			PostBalance:  parseUint64(post.UiTokenAmount.Amount),
		}
	}

	for _, pre := range preList {
		if int(pre.AccountIndex) >= len(accountKeys) {
			continue
		}
		account := accountKeys[pre.AccountIndex]
		if tb, ok := balances[account]; ok {
			tb.PreBalance = parseUint64(pre.UiTokenAmount.Amount)
			continue
		}
		mint, err := types.TryPubkeyFromBase58(pre.Mint)
		if err != nil {
			continue
		}
		owner, _ := types.TryPubkeyFromBase58(pre.Owner)
		balances[account] = &TokenBalance{
			AccountIndex: pre.AccountIndex,
			TokenAccount: account,
			Token:        mint,
			Owner:        owner,
			Decimals:     uint8(pre.UiTokenAmount.Decimals),
			PreBalance:   parseUint64(pre.UiTokenAmount.Amount),
		}
	}
	return balances
}

// buildInstructions 将主指令与 inner 指令按执行顺序展平。
// rawInners 按主指令索引升序排列，这里用单调推进的指针逐一匹配。
func buildInstructions(tx *pb.SubscribeUpdateTransactionInfo, accountKeys []types.Pubkey) []*AdaptedInstruction {
	rawInstructions := tx.Transaction.Message.Instructions
	rawInners := tx.Meta.InnerInstructions

	instrs := make([]*AdaptedInstruction, 0, len(rawInstructions))
	innerIdx := 0

	for i, inst := range rawInstructions {
		instrs = append(instrs, convertInstruction(uint16(i), 0, inst.ProgramIdIndex, inst.Accounts, inst.Data, accountKeys))

		if innerIdx < len(rawInners) && int(rawInners[innerIdx].Index) == i {
			for j, inner := range rawInners[innerIdx].Instructions {
				instrs = append(instrs, convertInstruction(uint16(i), uint16(j+1), inner.ProgramIdIndex, inner.Accounts, inner.Data, accountKeys))
			}
			innerIdx++
		}
	}
	return instrs
}

// convertInstruction 将原始指令字段映射为内部结构。
// accounts 是 accountKeys 索引的 byte 列表，这里反解为真实 Pubkey；
// 越界索引直接丢弃该账户位（异常交易由上层 recover 统一兜底）。
func convertInstruction(ixIndex, innerIndex uint16, pidIdx uint32, accounts, data []byte, accountKeys []types.Pubkey) *AdaptedInstruction {
	var programID types.Pubkey
	if int(pidIdx) < len(accountKeys) {
		programID = accountKeys[pidIdx]
	}
	accs := make([]types.Pubkey, 0, len(accounts))
	for _, idx := range accounts {
		if int(idx) < len(accountKeys) {
			accs = append(accs, accountKeys[idx])
		}
	}
	return &AdaptedInstruction{
		IxIndex:    ixIndex,
		InnerIndex: innerIndex,
		ProgramID:  programID,
		Accounts:   accs,
		Data:       data,
	}
}

// TranslateTx 将 gRPC 推送的交易数据转换为 AdaptedTx。
// panic 会被捕获并转为 error 返回，单条异常交易不会中断流。
func TranslateTx(slot uint64, blockTime int64, tx *pb.SubscribeUpdateTransactionInfo) (_ *AdaptedTx, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("TranslateTx panic: %v", r)
		}
	}()

	if tx == nil || tx.Transaction == nil || tx.Transaction.Message == nil || tx.Meta == nil {
		return nil, fmt.Errorf("incomplete transaction update")
	}
	if len(tx.Signature) == 0 {
		return nil, fmt.Errorf("missing signature")
	}

	accountKeys, err := buildFullAccountKeys(
		tx.Transaction.Message.AccountKeys,
		tx.Meta.LoadedWritableAddresses,
		tx.Meta.LoadedReadonlyAddresses,
	)
	if err != nil {
		return nil, fmt.Errorf("buildFullAccountKeys: %w", err)
	}
	if len(accountKeys) == 0 {
		return nil, fmt.Errorf("empty account keys")
	}

	return &AdaptedTx{
		Slot:          slot,
		BlockTime:     blockTime,
		Signature:     tx.Signature,
		Success:       tx.Meta.Err == nil,
		AccountKeys:   accountKeys,
		Instructions:  buildInstructions(tx, accountKeys),
		SolBalances:   buildSolBalances(tx.Meta, accountKeys),
		TokenBalances: buildTokenBalances(tx.Meta, accountKeys),
		LogMessages:   tx.Meta.LogMessages,
	}, nil
}

func parseUint64(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
