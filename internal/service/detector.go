package service

// UserSnapshot 用户文档在变更事件前/后的快照；DisplayName 为 nil 表示字段不存在
type UserSnapshot struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"display_name,omitempty"`
}

// PropagationTrigger 需要扇出的昵称变更
type PropagationTrigger struct {
	UserID      string
	DisplayName string
}

// DetectChange 比较变更前后的 displayName，未变化时不产生触发。
// 缺失的旧值与任何已定义的新值都视为不同（首次设置也会触发）。
// after 为 nil（文档被删除）时不触发。
func DetectChange(userID string, before, after *UserSnapshot) (PropagationTrigger, bool) {
	if after == nil {
		return PropagationTrigger{}, false
	}
	var old, cur *string
	if before != nil {
		old = before.DisplayName
	}
	cur = after.DisplayName
	if sameValue(old, cur) {
		return PropagationTrigger{}, false
	}
	name := ""
	if cur != nil {
		name = *cur
	}
	return PropagationTrigger{UserID: userID, DisplayName: CanonicalDisplayName(userID, name)}, true
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

const fallbackPrefixLen = 6

// CanonicalDisplayName 为空昵称合成 User_<userID 前 6 个字符>，保证冗余字段非空
func CanonicalDisplayName(userID, displayName string) string {
	if displayName != "" {
		return displayName
	}
	r := []rune(userID)
	if len(r) > fallbackPrefixLen {
		r = r[:fallbackPrefixLen]
	}
	return "User_" + string(r)
}
