package domain

import "errors"

var (
	ErrUnauthorized      = errors.New("invalid or expired token")
	ErrRoleMismatch      = errors.New("role not permitted")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrAttachment        = errors.New("failed to save attachment")
	ErrRemoteStore       = errors.New("remote store unavailable")
	ErrDowntimeNotFound  = errors.New("downtime not found")
	ErrAnalyzer          = errors.New("analyzer failed")
	ErrQueue             = errors.New("local queue write failed")
	ErrQueueReplay       = errors.New("queued record replay failed")
)
