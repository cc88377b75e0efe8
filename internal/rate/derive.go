package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// 无真实凭据的离线客户端共用的分组键材料。
const offlineKey = "TITLEFIX_OFFLINE"

// DeriveKey 依据客户端名与其原样 Options JSON 计算限流分组键：client:sha256(api key)。
// api_key 优先，其次 api_key_env 指向的环境变量。mock/flaky 缺省使用固定材料。
func DeriveKey(client string, raw json.RawMessage) (LimitKey, error) {
	var opts struct {
		APIKey    string `json:"api_key"`
		APIKeyEnv string `json:"api_key_env"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &opts)
	}
	key := opts.APIKey
	if key == "" {
		env := opts.APIKeyEnv
		if env == "" {
			switch client {
			case "openai":
				env = "OPENAI_API_KEY"
			case "gemini":
				env = "GEMINI_API_KEY"
			}
		}
		if env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" && (client == "mock" || client == "flaky") {
		key = offlineKey
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:8])), nil
}
