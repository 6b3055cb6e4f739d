// Package subject 构造事件存储底层日志总线所使用的层级化主题。
package subject

import "strings"

const separator = "."

// Router 基于 (流根, 聚合ID, 事件类型) 构造主题字符串。
type Router struct {
	Root string
}

// NewRouter 创建一个以 root 为流根的主题构造器。
func NewRouter(root string) Router {
	return Router{Root: root}
}

// Subject 构造单个事件的完整主题：R.A.T
func (r Router) Subject(aggregateID, eventType string) string {
	return strings.Join([]string{r.Root, aggregateID, eventType}, separator)
}

// AggregateWildcard 构造匹配某个聚合全部事件的通配主题：R.A.>
func (r Router) AggregateWildcard(aggregateID string) string {
	return strings.Join([]string{r.Root, aggregateID}, separator) + separator + ">"
}

// RootWildcard 构造匹配整个流的通配主题：R.>
func (r Router) RootWildcard() string {
	return r.Root + separator + ">"
}

// ValidSegment 报告 segment 是否可以安全地用作聚合ID或事件类型：
// 不允许包含分隔符或通配符字符。
func ValidSegment(segment string) bool {
	return segment != "" && !strings.ContainsAny(segment, ".>*")
}
