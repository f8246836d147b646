package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"
)

// Identity 是请求的缓存身份元组：只有这些字段参与指纹，
// 其余请求字段（stream、functions 等）一律不影响缓存命中。
type Identity struct {
	Messages     []IdentityMessage `json:"messages"`
	Model        string            `json:"model"`
	Temperature  float64           `json:"temperature"`
	TopP         float64           `json:"top_p"`
	MaxTokens    int               `json:"max_tokens"`
	SystemPrompt string            `json:"system_prompt"`
}

type IdentityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fingerprint 对身份元组做确定性序列化后取 SHA-256 前 16 字节。
func Fingerprint(id Identity) string {
	data, err := json.Marshal(id)
	if err != nil {
		// fallback: 确定性字符串，避免 key 碰撞
		data = []byte(fmt.Sprintf("%+v", id))
	}
	hash := sha256.Sum256(data)
	return "ai:cache:" + hex.EncodeToString(hash[:16])
}
