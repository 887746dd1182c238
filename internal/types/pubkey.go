package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Pubkey 表示 Solana 上的 32 字节公钥。
// base58 编码保留前导零字节（渲染为前导 '1'），由 mr-tron/base58 保证。
type Pubkey [32]byte

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// TryPubkeyFromBase58 解析 base58 字符串为 Pubkey，失败时返回 error（用于不信任输入路径）
func TryPubkeyFromBase58(s string) (Pubkey, error) {
	data, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("failed to decode base58 pubkey %q: %w", s, err)
	}
	if len(data) != 32 {
		return Pubkey{}, fmt.Errorf("invalid pubkey length: got %d, want 32, input=%q", len(data), s)
	}
	var p Pubkey
	copy(p[:], data)
	return p, nil
}

// PubkeyFromBase58 解析静态地址常量，输入非法时 panic（仅用于包内常量初始化）
func PubkeyFromBase58(s string) Pubkey {
	p, err := TryPubkeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PubkeyFromBytes 从原始字节构造 Pubkey，长度必须为 32
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	if len(b) != 32 {
		return Pubkey{}, fmt.Errorf("invalid pubkey length: got %d, want 32", len(b))
	}
	var p Pubkey
	copy(p[:], b)
	return p, nil
}

func PubkeysFromBase58(strs []string) []Pubkey {
	result := make([]Pubkey, 0, len(strs))
	for _, s := range strs {
		result = append(result, PubkeyFromBase58(s))
	}
	return result
}

// PubkeysToBase58 将 Pubkey 列表转换为 base58 字符串列表（构造订阅请求时使用）
func PubkeysToBase58(keys []Pubkey) []string {
	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, k.String())
	}
	return result
}
