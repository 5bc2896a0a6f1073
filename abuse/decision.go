package abuse

import "fmt"

// Actions for the decision loop output.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Decision is the outcome of one Evaluate call. A denial is a defined
// outcome with a user-facing reason, not an error.
type Decision struct {
	Allowed                bool
	Reason                 string
	BannedMinutesRemaining int
}

func (d Decision) Action() string {
	if d.Allowed {
		return ActionAllow
	}
	return ActionDeny
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// User-facing messages are Japanese: the engine is embedded in a
// Japanese-language fortune-telling chat service.
const (
	msgRateLimited = "メッセージの送信間隔が短すぎます。少し待ってから再度お試しください。"

	msgAccountSuspended = "【アカウント停止】\n\n不正利用が検出されたため、あなたのアカウントは自動的に停止されました。\n\nこれは利用規約に違反する行為（bot使用、自動化ツール、異常な利用パターン等）が検出されたためです。\n\n心当たりがない場合は、お問い合わせフォームよりご連絡ください。"
)

func banMessage(minutesRemaining int) string {
	return fmt.Sprintf("不正な利用パターンが検出されたため、一時的に利用を制限しています。約%d分後に再度お試しください。", minutesRemaining)
}
