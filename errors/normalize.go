package errors

import (
	stdErrors "errors"
)

// Normalize 将事件存储/投影层的错误规范化为 AppError。
//
// 设计目标：
//   - 对外统一暴露 ErrorCode 体系，避免调用方直接处理一堆"裸"错误类型；
//   - 保留原始错误作为 cause，方便日志与调试；
//   - 未识别的错误保持原样，不强行包装，交由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	// 已经是 AppError，直接返回
	if _, ok := err.(IError); ok {
		return err
	}

	switch {
	case stdErrors.Is(err, ErrInvalidCidChain()):
		return WrapError(err, ErrCodeInvalidCidChain, "cid chain validation failed")
	case stdErrors.Is(err, ErrEventNotFound()):
		return WrapError(err, ErrCodeEventNotFound, "event not found")
	case stdErrors.Is(err, ErrConcurrency()):
		return WrapError(err, ErrCodeConcurrency, "concurrent modification detected")
	case stdErrors.Is(err, ErrSubstrate()):
		return WrapError(err, ErrCodeSubstrate, "substrate operation failed")
	case stdErrors.Is(err, ErrSerialization()):
		return WrapError(err, ErrCodeSerialization, "serialization failed")
	case stdErrors.Is(err, ErrContentAddress()):
		return WrapError(err, ErrCodeContentAddress, "content address computation failed")
	case stdErrors.Is(err, ErrHandlerError()):
		return WrapError(err, ErrCodeHandlerError, "projection handler failed")
	case stdErrors.Is(err, ErrStoreError()):
		return WrapError(err, ErrCodeStoreError, "projection store operation failed")
	default:
		return err
	}
}
