package sqlerr

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// SQL无法解析或执行失败时返回的统一错误
type DecodeError struct {
	ErrKey    string
	ErrSubSQL string
	ErrSQL    string
	Params    []any
	Version   string
	Msg       string

	cause error
}

func NewDecodeError(format string, args ...any) *DecodeError {
	return &DecodeError{Msg: fmt.Sprintf(format, args...)}
}

// 包装底层错误，保留原始错误信息
func WrapDecodeError(cause error) *DecodeError {
	if cause == nil {
		return nil
	}
	return &DecodeError{Msg: cause.Error(), cause: cause}
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("sql decode error")
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.ErrKey != "" {
		fmt.Fprintf(&b, "\nkey: %v", e.ErrKey)
	}
	if e.ErrSubSQL != "" {
		fmt.Fprintf(&b, "\nsub sql: %v", e.ErrSubSQL)
	}
	if e.ErrSQL != "" {
		fmt.Fprintf(&b, "\nsql: %v", e.ErrSQL)
	}
	if e.Params != nil {
		fmt.Fprintf(&b, "\nparams: %v", e.Params)
	}
	if e.Version != "" {
		fmt.Fprintf(&b, "\nversion: %v", e.Version)
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error {
	return e.cause
}

// 已识别但未实现的SQL特性
type NotSupportedError struct {
	Feature string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("not supported: %v", e.Feature)
}

func NotSupported(format string, args ...any) *NotSupportedError {
	return &NotSupportedError{Feature: fmt.Sprintf(format, args...)}
}

// enforce_schema模式下表结构与数据不一致，需要执行迁移
type MigrationError struct {
	Msg string
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration required: %v", e.Msg)
}

func NewMigrationError(format string, args ...any) *MigrationError {
	return &MigrationError{Msg: fmt.Sprintf(format, args...)}
}

var warned sync.Map

// 同一个特性只告警一次
func Warn(feature string) {
	if _, loaded := warned.LoadOrStore(feature, struct{}{}); loaded {
		return
	}
	log.Warnf("%v is not supported by mongodb, statement accepted as a no-op", feature)
}
