package proposal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"Concierge-Engine/internal/task"
)

// ruleFileEntry 是规则文件中一条记录的序列化形状。
type ruleFileEntry struct {
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
	Service  string   `json:"service"`
	Summary  string   `json:"summary"`
}

// LoadRuleProvider 从 JSON 文件加载提案规则，文件中的规则优先于内置规则。
func LoadRuleProvider(path string) (*RuleProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("规则文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析规则文件路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取规则文件失败: %w", err)
	}
	defer file.Close()

	var entries []ruleFileEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析规则文件失败: %w", err)
	}

	rules := make([]Rule, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Keywords) == 0 || entry.Service == "" {
			continue
		}
		rules = append(rules, Rule{
			Keywords: entry.Keywords,
			Category: task.Category(entry.Category),
			Service:  entry.Service,
			Summary:  entry.Summary,
		})
	}
	provider := NewRuleProvider()
	provider.rules = append(rules, provider.rules...)
	return provider, nil
}
