package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/guardedchat/gatehouse/internal/history"
)

// handleTranscript renders the conversation as a standalone HTML page.
// Model replies are markdown and rendered as such; user entries are
// set off as block quotes.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	page, err := transcriptHTML(s.history.All())
	if err != nil {
		s.logger.Error("failed to render transcript", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(page)); err != nil {
		s.logger.Debug("failed to write transcript response", "error", err)
	}
}

// transcriptHTML composes the transcript as markdown, then converts it
// to an HTML fragment wrapped in a minimal envelope with no external
// resources.
func transcriptHTML(entries []history.Entry) (string, error) {
	var md strings.Builder
	md.WriteString("# Conversation Transcript\n\n")

	if len(entries) == 0 {
		md.WriteString("*No conversation yet.*\n")
	}
	for _, e := range entries {
		switch e.Role {
		case history.RoleUser:
			md.WriteString("**User:**\n\n")
			for _, line := range strings.Split(e.Content, "\n") {
				md.WriteString("> " + line + "\n")
			}
			md.WriteString("\n")
		default:
			md.WriteString("**Gemini:**\n\n")
			md.WriteString(e.Content + "\n\n")
		}
		md.WriteString("---\n\n")
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &buf); err != nil {
		return "", fmt.Errorf("render transcript markdown: %w", err)
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Conversation Transcript</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 720px; margin: 2em auto;">
%s
<p><a href="/">Back to chat</a></p>
</body></html>`, buf.String())

	return page, nil
}
