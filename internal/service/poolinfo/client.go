package poolinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dex-stream-sol/internal/config"
	"dex-stream-sol/internal/events"
	"dex-stream-sol/internal/types"
)

// Client 访问池子元数据 REST 服务。两个查询均为幂等读，
// 超时由 http.Client 控制，重试策略留给服务侧。
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(cfg config.PoolServiceConfig) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// poolInfoDTO REST 服务返回的池子结构
type poolInfoDTO struct {
	PoolAddress  string  `json:"pool_address"`
	Dex          string  `json:"dex"`
	BaseMint     string  `json:"base_mint"`
	QuoteMint    string  `json:"quote_mint"`
	BaseReserve  uint64  `json:"base_reserve"`
	QuoteReserve uint64  `json:"quote_reserve"`
	LiquidityUsd float64 `json:"liquidity_usd"`
}

func (d *poolInfoDTO) toPoolInfo() (*events.PoolInfo, error) {
	pool, err := types.TryPubkeyFromBase58(d.PoolAddress)
	if err != nil {
		return nil, fmt.Errorf("bad pool_address: %w", err)
	}
	info := &events.PoolInfo{
		PoolAddress:  pool,
		Dex:          d.Dex,
		BaseReserve:  d.BaseReserve,
		QuoteReserve: d.QuoteReserve,
		LiquidityUsd: d.LiquidityUsd,
	}
	// mint 字段可能缺失（新池子元数据未就绪），缺失不视为错误
	if d.BaseMint != "" {
		if info.BaseMint, err = types.TryPubkeyFromBase58(d.BaseMint); err != nil {
			return nil, fmt.Errorf("bad base_mint: %w", err)
		}
	}
	if d.QuoteMint != "" {
		if info.QuoteMint, err = types.TryPubkeyFromBase58(d.QuoteMint); err != nil {
			return nil, fmt.Errorf("bad quote_mint: %w", err)
		}
	}
	return info, nil
}

// GetPoolInfo 查询单个池子。未找到返回 (nil, nil)。
func (c *Client) GetPoolInfo(ctx context.Context, address string) (*events.PoolInfo, error) {
	var dto poolInfoDTO
	found, err := c.getJSON(ctx, fmt.Sprintf("%s/api/v1/pools/%s", c.endpoint, url.PathEscape(address)), &dto)
	if err != nil || !found {
		return nil, err
	}
	return dto.toPoolInfo()
}

// GetPoolsByToken 查询某 mint 关联的全部池子。
func (c *Client) GetPoolsByToken(ctx context.Context, mint string) ([]*events.PoolInfo, error) {
	var dtos []poolInfoDTO
	found, err := c.getJSON(ctx, fmt.Sprintf("%s/api/v1/pools?token=%s", c.endpoint, url.QueryEscape(mint)), &dtos)
	if err != nil || !found {
		return nil, err
	}
	pools := make([]*events.PoolInfo, 0, len(dtos))
	for i := range dtos {
		info, err := dtos[i].toPoolInfo()
		if err != nil {
			continue // 单条坏数据跳过，不拖垮整个查询
		}
		pools = append(pools, info)
	}
	return pools, nil
}

// getJSON 执行 GET 并解码 JSON。404 视为"无数据"而非错误。
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) (found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("pool service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("pool service returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode pool service response: %w", err)
	}
	return true, nil
}
