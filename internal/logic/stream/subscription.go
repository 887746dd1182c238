package stream

import (
	"strings"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// SubscriptionSpec 描述期望的订阅范围，BuildSubscribeRequest 将其映射为 wire 请求。
type SubscriptionSpec struct {
	Programs      []string // 交易过滤：交易账户表包含任一程序地址即推送
	Accounts      []string // 账户级订阅（池子账户变更）
	Commitment    pb.CommitmentLevel
	ExcludeVote   bool
	ExcludeFailed bool
}

// BuildSubscribeRequest 纯函数：不持有状态、不触网，便于单测。
func BuildSubscribeRequest(spec SubscriptionSpec) *pb.SubscribeRequest {
	req := &pb.SubscribeRequest{}

	if len(spec.Programs) > 0 {
		txFilter := &pb.SubscribeRequestFilterTransactions{
			AccountInclude: spec.Programs,
		}
		if spec.ExcludeVote {
			txFilter.Vote = boolPtr(false)
		}
		if spec.ExcludeFailed {
			txFilter.Failed = boolPtr(false)
		}
		req.Transactions = map[string]*pb.SubscribeRequestFilterTransactions{
			"transactions": txFilter,
		}
	}

	if len(spec.Accounts) > 0 {
		req.Accounts = map[string]*pb.SubscribeRequestFilterAccounts{
			"accounts": {
				Account: spec.Accounts,
			},
		}
	}

	commitment := spec.Commitment
	req.Commitment = &commitment
	return req
}

// ParseCommitment 解析配置中的 commitment 字符串，未知值回落到 confirmed。
func ParseCommitment(s string) pb.CommitmentLevel {
	switch strings.ToLower(s) {
	case "processed":
		return pb.CommitmentLevel_PROCESSED
	case "finalized":
		return pb.CommitmentLevel_FINALIZED
	default:
		return pb.CommitmentLevel_CONFIRMED
	}
}

func boolPtr(b bool) *bool {
	return &b
}
