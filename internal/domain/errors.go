package domain

import "errors"

// 错误分类（与前端约定的错误语义对齐，用 errors.Is 匹配）
var (
	// ErrValidation 非法icon/key/contentType/settings形状
	ErrValidation = errors.New("validation error")

	// ErrProtected 修改system层锁定字段，或试图隐藏mandatory tab
	ErrProtected = errors.New("protected")

	// ErrVersionConflict 乐观并发冲突（expectedVersion过期），调用方应重读后重试
	ErrVersionConflict = errors.New("version conflict")

	// ErrNotFound (scope, scope_id, key) 不存在
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey create时 (scope, scope_id, key) 已存在
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrPresetNotFound 未知preset名称
	ErrPresetNotFound = errors.New("preset not found")

	// ErrPermissionDenied 外部授权决策拒绝（本核心只转达，不计算权限）
	ErrPermissionDenied = errors.New("permission denied")
)
