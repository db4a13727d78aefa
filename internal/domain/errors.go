package domain

import "errors"

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolInvalid      = errors.New("invalid tool descriptor")
	ErrToolDuplicate    = errors.New("tool already registered")
	ErrValidation       = errors.New("parameter validation failed")
	ErrPlanParse        = errors.New("unparseable plan")
	ErrVerdictParse     = errors.New("unparseable verdict")
)
