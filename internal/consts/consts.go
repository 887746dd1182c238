package consts

const (
	ChainIDSolana uint32 = 100000

	// SolDecimals SOL 精度固定为 9
	SolDecimals = 9

	// LamportsPerSol 1 SOL = 1e9 lamports
	LamportsPerSol uint64 = 1_000_000_000

	// DustSolThreshold 低于该值的 SOL 余额变动视为手续费噪声（约 0.001 SOL），
	// 不作为成交金额上报，避免把纯手续费扣减当成交易。
	DustSolThreshold uint64 = 1_000_000
)
