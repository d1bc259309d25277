package signer

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind Sign 失败的分类
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindSubmission 签名请求未送达签名合约
	KindSubmission
	// KindNotFound 轮询次数耗尽，重试需要重新提交请求
	KindNotFound
	// KindContract 签名合约对该请求上报错误，不可重试
	KindContract
	// KindSigning 轮询过程中的其他失败，包装原始错误
	KindSigning
	// KindVerification 同步返回的签名未恢复到预期地址
	KindVerification
)

func (k ErrorKind) String() string {
	switch k {
	case KindSubmission:
		return "SUBMISSION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindContract:
		return "CONTRACT"
	case KindSigning:
		return "SIGNING"
	case KindVerification:
		return "VERIFICATION"
	default:
		return "UNKNOWN"
	}
}

// Error 参数校验通过后 Contract.Sign 返回的所有错误
type Error struct {
	Kind      ErrorKind
	RequestID string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Kind.String(), e.Message))
	if e.RequestID != "" {
		sb.WriteString(fmt.Sprintf(" [request: %s]", e.RequestID))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewSubmissionError 提交或确认签名请求失败
func NewSubmissionError(requestID string, err error) *Error {
	return &Error{
		Kind:      KindSubmission,
		RequestID: requestID,
		Message:   "failed to submit sign request",
		Cause:     err,
	}
}

// NewNotFoundError 轮询次数内未出现有效签名
func NewNotFoundError(requestID string, attempts int) *Error {
	return &Error{
		Kind:      KindNotFound,
		RequestID: requestID,
		Message:   fmt.Sprintf("signature not found after %d attempts", attempts),
	}
}

// NewContractError 携带签名合约上报的错误信息
func NewContractError(requestID string, msg string) *Error {
	return &Error{
		Kind:      KindContract,
		RequestID: requestID,
		Message:   msg,
	}
}

// NewSigningError 等待签名时的意外失败
func NewSigningError(requestID string, err error) *Error {
	return &Error{
		Kind:      KindSigning,
		RequestID: requestID,
		Message:   "failed while waiting for signature",
		Cause:     err,
	}
}

// NewVerificationError 返回的签名未通过恢复校验
func NewVerificationError(requestID string, msg string) *Error {
	return &Error{
		Kind:      KindVerification,
		RequestID: requestID,
		Message:   msg,
	}
}

// KindOf 返回错误链中 signer 错误的分类
func KindOf(err error) ErrorKind {
	var signErr *Error
	if errors.As(err, &signErr) {
		return signErr.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsContractError(err error) bool {
	return KindOf(err) == KindContract
}

func IsSubmissionError(err error) bool {
	return KindOf(err) == KindSubmission
}
