package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"imagen-batch/common"
)

// ErrTemplateCreated prompt 文件不存在，已生成模板
var ErrTemplateCreated = errors.New("prompts file created from template")

// Entry 一条 prompt：名称用作文件名，Text 为发送给模型的描述
type Entry struct {
	Name string
	Text string
}

// Set 按文件顺序保存的 prompt 集合
type Set struct {
	entries []Entry
}

// Len 返回 prompt 数量
func (s *Set) Len() int {
	return len(s.entries)
}

// Entries 返回 prompt 列表副本
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// templateEntries 缺少 prompt 文件时写入的模板内容
var templateEntries = []Entry{
	{Name: "Example Person", Text: "Describe your image prompt here."},
}

// Load 读取 prompt 文件，根据扩展名选择 JSON 或 YAML 解析
// 文件不存在时写入模板并返回 ErrTemplateCreated
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeTemplate(path); err != nil {
			return nil, err
		}
		common.WithField("path", path).Info("Prompts file missing, template written")
		return nil, ErrTemplateCreated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var entries []Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = parseYAML(data)
	default:
		entries, err = parseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed prompts file %s: %w", path, err)
	}
	if err := validate(entries); err != nil {
		return nil, fmt.Errorf("malformed prompts file %s: %w", path, err)
	}

	common.WithFields(map[string]interface{}{
		"path":  path,
		"count": len(entries),
	}).Debug("Prompts loaded")

	return &Set{entries: entries}, nil
}

// parseJSON 解析扁平的 {"name": "prompt"} 对象，保持键的原始顺序
func parseJSON(data []byte) ([]Entry, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("file is empty")
	}
	om := orderedmap.New[string, string]()
	if err := json.Unmarshal(data, om); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		entries = append(entries, Entry{Name: pair.Key, Text: pair.Value})
	}
	return entries, nil
}

// parseYAML 解析扁平的 name: prompt 映射，通过 yaml.Node 保持顺序
func parseYAML(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	// 空文档
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, errors.New("file is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of name to prompt", root.Line)
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	seen := make(map[string]int, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode || value.Kind != yaml.ScalarNode || value.Tag == "!!null" {
			return nil, fmt.Errorf("line %d: prompt values must be strings", key.Line)
		}
		// 与 JSON 行为一致：重复的键以最后一次出现为准
		if idx, ok := seen[key.Value]; ok {
			entries[idx].Text = value.Value
			continue
		}
		seen[key.Value] = len(entries)
		entries = append(entries, Entry{Name: key.Value, Text: value.Value})
	}
	return entries, nil
}

// validate 名称和内容都不能为空
func validate(entries []Entry) error {
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return errors.New("prompt name must not be empty")
		}
		if strings.TrimSpace(e.Text) == "" {
			return fmt.Errorf("prompt %q has no text", e.Name)
		}
	}
	return nil
}

// writeTemplate 写入示例 prompt 文件
func writeTemplate(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		m := make(map[string]string, len(templateEntries))
		for _, e := range templateEntries {
			m[e.Name] = e.Text
		}
		data, err = yaml.Marshal(m)
	default:
		om := orderedmap.New[string, string]()
		for _, e := range templateEntries {
			om.Set(e.Name, e.Text)
		}
		data, err = json.MarshalIndent(om, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode prompts template: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create prompts directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write prompts template: %w", err)
	}
	return nil
}
