// Package domain holds the core types, interfaces and sentinel errors
// shared by the agent, its adapters and the gateway.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrThreadNotFound       = fmt.Errorf("thread not found")
	ErrToolNotFound         = fmt.Errorf("tool not found")
	ErrMaxTurns             = fmt.Errorf("agent reached max turns")
	ErrModelInvocation      = fmt.Errorf("model invocation failed")
	ErrNoPendingDecision    = fmt.Errorf("no pending decision")
	ErrDuplicateDecision    = fmt.Errorf("decision already resolved")
	ErrConcurrentSubmission = fmt.Errorf("thread is busy with another submission")
	ErrDecisionPending      = fmt.Errorf("a decision is pending for this thread")
	ErrInvalidInput         = fmt.Errorf("invalid input")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrToolFailure          = fmt.Errorf("tool execution failed")
	ErrRateLimit            = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid          = fmt.Errorf("authentication failed")
	ErrContextOverflow      = fmt.Errorf("context window exceeded")
	ErrEmbeddingFailed      = fmt.Errorf("embedding generation failed")
	ErrKnowledgeStore       = fmt.Errorf("knowledge store operation failed")
	ErrKnowledgeSearch      = fmt.Errorf("knowledge search failed")
	ErrCollectionNotFound   = fmt.Errorf("knowledge collection not found")
	ErrWeatherStore         = fmt.Errorf("weather store operation failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Agent.Submit")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and
// gateway status mapping.
type ErrorCode string

const (
	CodeUnknown               ErrorCode = "UNKNOWN"
	CodeThreadNotFound        ErrorCode = "THREAD_NOT_FOUND"
	CodeToolNotFound          ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure           ErrorCode = "TOOL_FAILURE"
	CodeMaxTurns              ErrorCode = "MAX_TURNS"
	CodeModelInvocation       ErrorCode = "MODEL_INVOCATION"
	CodeNoPendingDecision     ErrorCode = "NO_PENDING_DECISION"
	CodeDuplicateDecision     ErrorCode = "DUPLICATE_DECISION"
	CodeConcurrentSubmission  ErrorCode = "CONCURRENT_SUBMISSION"
	CodeDecisionPending       ErrorCode = "DECISION_PENDING"
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodeConfigLoad            ErrorCode = "CONFIG_LOAD"
	CodeRateLimit             ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid           ErrorCode = "AUTH_INVALID"
	CodeContextOverflow       ErrorCode = "CONTEXT_OVERFLOW"
	CodeEmbeddingFailed       ErrorCode = "EMBEDDING_FAILED"
	CodeKnowledgeStore        ErrorCode = "KNOWLEDGE_STORE"
	CodeKnowledgeSearch       ErrorCode = "KNOWLEDGE_SEARCH"
	CodeCollectionNotFound    ErrorCode = "COLLECTION_NOT_FOUND"
	CodeWeatherStore          ErrorCode = "WEATHER_STORE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrThreadNotFound:       CodeThreadNotFound,
	ErrToolNotFound:         CodeToolNotFound,
	ErrToolFailure:          CodeToolFailure,
	ErrMaxTurns:             CodeMaxTurns,
	ErrModelInvocation:      CodeModelInvocation,
	ErrNoPendingDecision:    CodeNoPendingDecision,
	ErrDuplicateDecision:    CodeDuplicateDecision,
	ErrConcurrentSubmission: CodeConcurrentSubmission,
	ErrDecisionPending:      CodeDecisionPending,
	ErrInvalidInput:         CodeInvalidInput,
	ErrConfigLoad:           CodeConfigLoad,
	ErrRateLimit:            CodeRateLimit,
	ErrAuthInvalid:          CodeAuthInvalid,
	ErrContextOverflow:      CodeContextOverflow,
	ErrEmbeddingFailed:      CodeEmbeddingFailed,
	ErrKnowledgeStore:       CodeKnowledgeStore,
	ErrKnowledgeSearch:      CodeKnowledgeSearch,
	ErrCollectionNotFound:   CodeCollectionNotFound,
	ErrWeatherStore:         CodeWeatherStore,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
