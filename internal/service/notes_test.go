package service

import (
	"strings"
	"testing"
)

func TestRenderNoteHTML(t *testing.T) {
	html, err := RenderNoteHTML("# 今日复盘\n\n完成 **晨跑** 5 公里")
	if err != nil {
		t.Fatalf("render note failed: %v", err)
	}
	if !strings.Contains(html, "<h1") {
		t.Fatalf("expected heading in output: %s", html)
	}
	if !strings.Contains(html, "<strong>晨跑</strong>") {
		t.Fatalf("expected bold text in output: %s", html)
	}
}

func TestRenderNoteHTMLStripsScript(t *testing.T) {
	html, err := RenderNoteHTML("备注 <script>alert('x')</script> 结束")
	if err != nil {
		t.Fatalf("render note failed: %v", err)
	}
	if strings.Contains(html, "<script") || strings.Contains(html, "alert(") {
		t.Fatalf("script content must be sanitized: %s", html)
	}
	if !strings.Contains(html, "备注") {
		t.Fatalf("plain text should survive sanitizing: %s", html)
	}
}

func TestRenderNoteHTMLAutoLink(t *testing.T) {
	html, err := RenderNoteHTML("参考 https://example.com/doc")
	if err != nil {
		t.Fatalf("render note failed: %v", err)
	}
	if !strings.Contains(html, `<a href="https://example.com/doc"`) {
		t.Fatalf("expected auto link in output: %s", html)
	}
}
