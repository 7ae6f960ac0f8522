package service

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	noteMarkdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	noteSanitizer = bluemonday.UGCPolicy()
)

// RenderNoteHTML 把实例备注的 Markdown 渲染为净化后的 HTML
// 备注是用户自由输入，输出前必须过一次白名单净化
func RenderNoteHTML(notes string) (string, error) {
	trimmed := strings.TrimSpace(notes)
	if trimmed == "" {
		return "", nil
	}

	var buf bytes.Buffer
	if err := noteMarkdown.Convert([]byte(trimmed), &buf); err != nil {
		return "", fmt.Errorf("render note markdown: %w", err)
	}

	return noteSanitizer.Sanitize(buf.String()), nil
}
