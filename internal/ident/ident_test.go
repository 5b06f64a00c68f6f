package ident

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := NewRoomCode()
		require.NoError(t, err)
		assert.Len(t, code, RoomCodeLength, "房间码长度应固定")
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(roomCodeAlphabet, ch), "房间码只应使用白名单字符: %c", ch)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 90, "房间码应有足够的随机性")
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b, "每次生成的 ID 应不同")
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash, "哈希不应等于明文")

	assert.True(t, CheckPassword("secret123", hash), "正确密码应通过校验")
	assert.False(t, CheckPassword("wrong", hash), "错误密码应被拒绝")
}
