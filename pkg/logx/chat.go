package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"datealerts/internal/transport"
)

const (
	chatMessageLimit = 3500
	chatValueLimit   = 600
)

type chatLine struct {
	to  transport.ChatTarget
	msg string
}

func (s *Service) chatWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.chatQueue:
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = s.sender.SendText(sctx, it.to, it.msg, &transport.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

// chatWriter is a zerolog level writer feeding the chat queue.
// It never blocks logging: lines over the rate limit or queue capacity are dropped.
type chatWriter struct{ svc *Service }

func (w *chatWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	to := s.target
	lim := s.limiter
	minLvl := s.minLevel
	s.mu.Unlock()

	if to.IsZero() || lim == nil || level < minLvl || !lim.Allow() {
		return len(p), nil
	}
	msg := formatChatLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case s.chatQueue <- chatLine{to: to, msg: msg}:
	default:
	}
	return len(p), nil
}

// formatChatLine renders a zerolog JSON line as "[LEVEL] message" plus sorted key=value lines.
func formatChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), chatMessageLimit)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(m[k]), chatValueLimit))
	}
	return truncate(b.String(), chatMessageLimit)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
