package repository

import "errors"

// 通用的存储库错误。
var (
	// ErrNotFound 表示请求的键/记录不存在。
	ErrNotFound = errors.New("repository: record not found")
	// ErrUnavailable 表示底层存储暂时不可用。
	ErrUnavailable = errors.New("repository: store unavailable")
)
