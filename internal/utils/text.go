package utils

import (
	"strings"
	"unicode/utf8"

	"k8s.io/klog/v2"
)

// ExtractJSON returns the first balanced {...} object in content, or content
// unchanged when there is none.
func ExtractJSON(content string) string {
	start, depth := -1, 0
	inString, escaped := false, false
	for i, ch := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return content[start : i+1]
			}
		}
	}
	return content
}

// StripCodeFence returns the body of the first fenced block in content, or the
// trimmed content when it has no fence. Models like to wrap copy in ```markdown.
func StripCodeFence(content string) string {
	open := strings.Index(content, "```")
	if open < 0 {
		return strings.TrimSpace(content)
	}
	rest := content[open+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return strings.TrimSpace(content)
	}
	body := rest[nl+1:]
	end := strings.Index(body, "```")
	if end < 0 {
		klog.V(6).Infof("[StripCodeFence] unterminated fence, keeping body")
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(body[:end])
}

// Truncate returns the longest prefix of s that fits in n bytes without
// splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
