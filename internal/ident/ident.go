// Package ident 集中生成各类标识符并处理房间密码哈希。
package ident

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// 房间码字母表：去掉了 0/O、1/I 这类易混淆字符。
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomCodeLength 是房间码的固定长度。
const RoomCodeLength = 6

// NewRoomCode 生成一个 6 位房间码。
func NewRoomCode() (string, error) {
	b := make([]byte, RoomCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ident: failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = roomCodeAlphabet[int(b[i])%len(roomCodeAlphabet)]
	}
	return string(b), nil
}

// NewID 生成实体（对象/白板/命令/时间线条目）的唯一 ID。
func NewID() string {
	return uuid.NewString()
}

// HashPassword 使用 bcrypt 哈希房间密码。
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ident: failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword 校验明文密码与存储的哈希是否匹配。
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
