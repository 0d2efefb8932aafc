package syncer

// FilterUnread 纯函数：从会话摘要里筛出未读子序列，保持原顺序。
//
// 未读契约：
//   unread ⇔ last_unread.timestamp != last_read.timestamp
// 相等比较而非大小比较 —— 存储保证 MarkRead 把 unread 水位原样拷贝到
// read 水位，两边相等即已读。特例：
//   - 有 unread 标记、无 read 标记 ⇒ 未读（从未读过）
//   - 无 unread 标记 ⇒ 已读（会话从无新活动）
func FilterUnread(summaries []ConversationSummary) []ConversationSummary {
	var out []ConversationSummary
	for _, s := range summaries {
		if s.LastUnread == nil {
			continue
		}
		if s.LastRead == nil || s.LastUnread.Timestamp != s.LastRead.Timestamp {
			out = append(out, s)
		}
	}
	return out
}
