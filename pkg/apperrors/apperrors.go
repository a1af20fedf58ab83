// Package apperrors 提供應用程式錯誤處理
package apperrors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeCapacity 容量限制（建議呼叫方重試其他目標）
	ErrCodeCapacity = "CAPACITY"
	// ErrCodeInvalidInput 無效輸入（協議錯誤）
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeRateLimited 觸發限流
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeUnauthorized 身份不符（安全相關，靜默丟棄）
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeConflict 狀態衝突
	ErrCodeConflict = "CONFLICT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 外部協作者不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is（以錯誤碼比對）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 添加詳細資訊
func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Err:     e.Err,
	}
}

// 預定義錯誤
var (
	// ErrUnknownChannel 未知的頻道編號
	ErrUnknownChannel = New(ErrCodeNotFound, "unknown channel id")

	// ErrChannelFull 頻道已滿（建議呼叫方嘗試下一個頻道）
	ErrChannelFull = New(ErrCodeCapacity, "channel is full")

	// ErrNotInChannel 連線不在任何頻道內
	ErrNotInChannel = New(ErrCodeConflict, "connection not in a channel")

	// ErrRateLimited 動作被限流拒絕
	ErrRateLimited = New(ErrCodeRateLimited, "action rate limited")

	// ErrIdentityMismatch 宣告的身份與連線不符
	ErrIdentityMismatch = New(ErrCodeUnauthorized, "claimed identity does not match connection")

	// ErrSessionNotFound 會話不存在
	ErrSessionNotFound = New(ErrCodeNotFound, "session not found")

	// ErrMonsterNotFound 怪物不存在
	ErrMonsterNotFound = New(ErrCodeNotFound, "monster not found")

	// ErrPKRequestNotFound PK 邀請不存在或已過期
	ErrPKRequestNotFound = New(ErrCodeNotFound, "pk request not found or expired")

	// ErrStoreUnavailable 持久化協作者不可用
	ErrStoreUnavailable = New(ErrCodeUnavailable, "persistence store unavailable")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsCapacity 檢查是否為容量錯誤
func IsCapacity(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeCapacity
	}
	return false
}

// IsRateLimited 檢查是否為限流錯誤
func IsRateLimited(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeRateLimited
	}
	return false
}

// IsUnauthorized 檢查是否為身份不符錯誤
func IsUnauthorized(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeUnauthorized
	}
	return false
}
