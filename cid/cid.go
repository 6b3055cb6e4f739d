// Package cid 计算内容寻址标识符（CID）。
//
// 实现对齐 spec 对 CID 的约定：SHA-256 摘要 -> multihash（code 0x12）->
// CIDv1（codec 0x55，raw），规范化为小写 base32 字符串。
package cid

import (
	"context"
	"crypto/sha256"
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"cimchain/logging"
)

// Provider 计算一段字节的内容地址标识符。
//
// 可插拔：外部实现（例如基于 IPFS 的服务）只要对相同字节产生相同 CID，
// 就能与本地计算互换而不破坏链的可验证性。
type Provider interface {
	ComputeCID(ctx context.Context, data []byte) (string, error)
}

// LocalProvider 纯本地的 SHA-256 计算，不依赖任何网络服务。
type LocalProvider struct{}

// ComputeCID 实现 Provider。
func (LocalProvider) ComputeCID(_ context.Context, data []byte) (string, error) {
	return computeLocal(data)
}

func computeLocal(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	mh, err := multihash.Encode(sum[:], multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("cid: multihash encode: %w", err)
	}
	c := gocid.NewCidV1(gocid.Raw, mh)
	return c.String(), nil
}

// Of 计算 data 的 CID。
//
// 若 provider 非空，先尝试调用它；provider 为空或调用失败时回退到本地
// SHA-256 计算，仅在 provider 调用失败时记录一条 warn 日志 —— CID 是字节的
// 属性，不是网络调用的属性，因此回退必须总是成功。
func Of(ctx context.Context, data []byte, provider Provider, logger logging.ILogger) (string, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if provider != nil {
		cidStr, err := provider.ComputeCID(ctx, data)
		if err == nil {
			return cidStr, nil
		}
		logger.Warn(ctx, "content address provider failed, falling back to local computation",
			logging.Error(err))
	}
	return computeLocal(data)
}

// Equal 比较两个 CID 字符串是否表示同一个内容地址。
func Equal(a, b string) bool {
	return a == b
}
