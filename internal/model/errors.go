// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 管理画面に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, pipeline, system
	Action   string // 管理者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeRunNotFound    = "RUN_NOT_FOUND"
	ErrCodeInvalidURL     = "INVALID_URL"
	ErrCodeSSRFBlocked    = "SSRF_BLOCKED"
	ErrCodeFetchFailed    = "FETCH_FAILED"
	ErrCodeFeedNotFound   = "FEED_NOT_DETECTED"
	ErrCodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	ErrCodeUnavailable    = "SERVICE_UNAVAILABLE"
	ErrCodeInternalServer = "INTERNAL_ERROR"
)

// NewUnauthorizedError は管理トークン不一致エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "管理APIの認証に失敗しました。",
		Category: "auth",
		Action:   "Authorizationヘッダーに正しい管理トークンを指定してください。",
	}
}

// NewRunNotFoundError は集約ランの実行履歴がない場合のエラーを生成する。
func NewRunNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeRunNotFound,
		Message:  "集約ランはまだ実行されていません。",
		Category: "pipeline",
		Action:   "集約を手動実行するか、次回のスケジュール実行を待ってください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を設定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを設定してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "pipeline",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  fmt.Sprintf("指定されたURLからRSS/Atomフィードを検出できませんでした: %s", url),
		Category: "pipeline",
		Action:   "シードファイルにfeed_urlを直接指定するか、スクレイピング方式で登録してください。",
	}
}
