package eventing

import "encoding/json"

// Envelope 包装一个领域事件，携带头部与链式元数据。
//
// CID 在追加前为 nil。PreCIDBytes 序列化时强制把 CID 置空——内容地址
// 正是在这段字节之上计算的，CID 字段本身绝不参与自己的计算（spec §4.3）。
type Envelope struct {
	AggregateID string         `json:"aggregate_id"`
	EventType   string         `json:"event_type"`
	EventData   map[string]any `json:"event_data"`
	Header      Header         `json:"header"`
	CID         *string        `json:"cid"`
	ParentCID   *string        `json:"parent_cid"`
}

// PreCIDBytes 返回分配 CID 之前的序列化形式。
func (e Envelope) PreCIDBytes() ([]byte, error) {
	pre := e
	pre.CID = nil
	return json.Marshal(pre)
}

// Finalize 返回设置了 CID 的副本，供落盘/发布使用。
func (e Envelope) Finalize(cidStr string) Envelope {
	final := e
	final.CID = &cidStr
	return final
}
