package consts

import "dex-stream-sol/internal/types"

// Platform 表示交易归属的发射台 / DEX 平台。
// 封闭枚举：新增平台只需在本文件补一条表项。
type Platform int

const (
	PlatformUnknown Platform = iota
	PlatformPumpFun
	PlatformLetsBonk
	PlatformMoonshot
	PlatformRaydium
)

var platformNames = []string{
	"unknown",
	"pumpfun",
	"letsbonk",
	"moonshot",
	"raydium",
}

func (p Platform) String() string {
	if p >= 0 && int(p) < len(platformNames) {
		return platformNames[p]
	}
	return platformNames[0]
}

// PlatformPrograms 是 Program 地址 → 平台的静态映射表。
// PumpFun 的 bonding curve 程序与 AMM（PumpSwap）程序归并为同一平台。
var PlatformPrograms = map[types.Pubkey]Platform{
	PumpFunProgram:    PlatformPumpFun,
	PumpFunAMMProgram: PlatformPumpFun,
	LetsBonkProgram:   PlatformLetsBonk,
	MoonshotProgram:   PlatformMoonshot,
	RaydiumV4Program:  PlatformRaydium,
}

// PlatformProgramStrs 返回全部已知平台 Program 的 base58 地址（订阅过滤用）
func PlatformProgramStrs() []string {
	return []string{
		PumpFunProgramStr,
		PumpFunAMMProgramStr,
		LetsBonkProgramStr,
		MoonshotProgramStr,
		RaydiumV4ProgramStr,
	}
}
