package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// GetExtensionFromMimeType 根据 MIME 类型获取文件扩展名（不区分大小写）
func GetExtensionFromMimeType(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	// 去掉 "; charset=..." 之类的参数
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".png" // Imagen 默认返回 png
	}
}

// SanitizeFileName 把 prompt 名称转换为安全的文件名主体
// 保留任意语言的字母、数字（含组合符号）以及 '-'、'_'、'.'，
// 空白、路径分隔符、控制字符和其他保留字符替换为 '_'
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	// 不允许以 '.' 开头，避免生成隐藏文件或 ".."
	s := strings.TrimLeft(b.String(), ".")
	if strings.Trim(s, "_") == "" {
		return "prompt"
	}
	return s
}

// TruncateForLog 截断长字符串用于日志，避免打印过长内容（如完整 prompt）
// 结果不超过 max 字节，且只在字符边界处截断
func TruncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	limit, suffix := max-3, "..."
	if max <= 3 {
		limit, suffix = max, ""
	}
	n := 0
	for n < len(s) {
		_, size := utf8.DecodeRuneInString(s[n:])
		if n+size > limit {
			break
		}
		n += size
	}
	return s[:n] + suffix
}
