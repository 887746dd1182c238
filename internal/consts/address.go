package consts

import "dex-stream-sol/internal/types"

// Base58 地址常量（可读性高，适合配置与日志使用）
const (
	// Programs
	SystemProgramStr          = "11111111111111111111111111111111"
	TokenProgramStr           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	TokenProgram2022Str       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramStr = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramStr   = "ComputeBudget111111111111111111111111111111"

	// 报价币
	WSOLMintStr = "So11111111111111111111111111111111111111112"
	USDCMintStr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	// Launchpad / DEX Programs
	PumpFunProgramStr    = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	PumpFunAMMProgramStr = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"
	LetsBonkProgramStr   = "LanMV9sAd7wArD4vJFi2qDdfnVhFxYSUg6eADduJ3uj"
	MoonshotProgramStr   = "MoonCVVNZFSYkqNXP6bxHLPL6QQJiMagDL3qcqUQTrG"
	RaydiumV4ProgramStr  = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
)

var (
	// NativeSOLMint 原生 SOL（非 SPL），全零地址作为哨兵
	NativeSOLMint = types.Pubkey{}

	// Programs
	SystemProgram          = types.PubkeyFromBase58(SystemProgramStr)
	TokenProgram           = types.PubkeyFromBase58(TokenProgramStr)
	TokenProgram2022       = types.PubkeyFromBase58(TokenProgram2022Str)
	AssociatedTokenProgram = types.PubkeyFromBase58(AssociatedTokenProgramStr)

	// 报价币
	WSOLMint = types.PubkeyFromBase58(WSOLMintStr)
	USDCMint = types.PubkeyFromBase58(USDCMintStr)

	// Launchpad / DEX Program
	PumpFunProgram    = types.PubkeyFromBase58(PumpFunProgramStr)
	PumpFunAMMProgram = types.PubkeyFromBase58(PumpFunAMMProgramStr)
	LetsBonkProgram   = types.PubkeyFromBase58(LetsBonkProgramStr)
	MoonshotProgram   = types.PubkeyFromBase58(MoonshotProgramStr)
	RaydiumV4Program  = types.PubkeyFromBase58(RaydiumV4ProgramStr)
)

// IsSPLTokenProgram 判断是否为标准 SPL Token 程序（含 Token-2022）
func IsSPLTokenProgram(p types.Pubkey) bool {
	return p == TokenProgram || p == TokenProgram2022
}
