package model

import "github.com/hybridsearch/docengine/internal/apperrors"

var (
	errQueryEmpty        = apperrors.New(apperrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	errQueryTooLong      = apperrors.New(apperrors.ErrCodeQueryTooLong, "query exceeds 1024 characters", nil)
	errTopKOutOfRange    = apperrors.New(apperrors.ErrCodeInvalidInput, "top_k must be between 0 and 100", nil)
	errInvalidSearchType = apperrors.New(apperrors.ErrCodeInvalidInput, "search_type must be one of vector, lexical, hybrid", nil)
)
