package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign 使用 HMAC-SHA256 对规范化的查询字符串进行签名，返回十六进制结果。
func Sign(secretKey, payload string) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
