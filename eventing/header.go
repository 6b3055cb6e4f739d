// Package eventing 定义事件信封与头部：关联/因果追踪的最小抽象，
// 独立于任何具体的底层日志子系统（NATS、Redis 等）。
package eventing

import (
	"time"

	"github.com/google/uuid"
)

// Header 事件头，一旦创建不可变。
//
// CausationID 非空时，记录的是触发本事件的上一个事件的 MessageID——
// 这个关系仅用于审计，存储层不做强制校验（见 spec §3）。
type Header struct {
	MessageID     string    `json:"message_id"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   *string   `json:"causation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewHeader 创建全新事件头：生成消息ID与关联ID，无因果。
func NewHeader() Header {
	return Header{
		MessageID:     uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UTC(),
	}
}

// NewHeaderWithCorrelation 生成新消息ID，复用调用方提供的关联ID。
//
// 编排同一个 saga/工作流的多个事件时必须使用这个构造函数而不是
// NewHeader —— 关联ID需要被有意地串联，而不是每次都重新生成。
func NewHeaderWithCorrelation(correlationID string) Header {
	return Header{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}

// NewHeaderWithCausation 生成新消息ID，设置关联ID与因果ID。
func NewHeaderWithCausation(correlationID, causationMessageID string) Header {
	causation := causationMessageID
	return Header{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		CausationID:   &causation,
		Timestamp:     time.Now().UTC(),
	}
}
