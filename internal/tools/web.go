package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/agentcore/runtime/internal/ports"
)

// WebFetchDefinition describes the WebFetch tool: approval-gated since it
// makes outbound network requests on the agent's behalf.
func WebFetchDefinition() Definition {
	return Definition{
		Name: "WebFetch",
		Description: "Fetch a URL and return its content as cleaned text (HTML tags, " +
			"scripts, and styles stripped). Results are cached.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url":       {"type": "string", "description": "The URL to fetch."},
				"max_chars": {"type": "integer", "description": "Maximum characters to return. Default: 10000"}
			},
			"required": ["url"]
		}`),
	}
}

type webFetchArgs struct {
	URL      string `json:"url"`
	MaxChars int    `json:"max_chars,omitempty"`
}

const webFetchTimeout = 15 * time.Second

// WebFetchHandler builds a WebFetch handler backed by cache, the
// SQLite-backed FetchCache this package maintains. A nil cache is fine —
// every request is a miss and nothing is persisted.
func WebFetchHandler(cache *FetchCache) Handler {
	client := &http.Client{Timeout: webFetchTimeout}

	return func(ctx context.Context, call ports.ToolCall) (ports.ToolExecutionResult, error) {
		var args webFetchArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return ports.ToolExecutionResult{}, fmt.Errorf("unmarshal arguments: %w", err)
		}
		if args.URL == "" {
			return errResult(call, ports.ErrorInvalidInput, "url is required"), nil
		}
		if args.MaxChars <= 0 {
			args.MaxChars = 10000
		}

		if cached, ok := cache.Get(args.URL); ok {
			return okResult(call, truncateRunes(cached, args.MaxChars)), nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
		if err != nil {
			return errResult(call, ports.ErrorInvalidInput, fmt.Sprintf("bad url: %v", err)), nil
		}
		req.Header.Set("User-Agent", "agentcore-runtime/0.1")
		req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return errResult(call, ports.ErrorTimeout, fmt.Sprintf("fetch failed: %v", err)), nil
			}
			return errResult(call, ports.ErrorUnknown, fmt.Sprintf("fetch failed: %v", err)), nil
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return errResult(call, ports.ErrorUnknown, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status)), nil
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return errResult(call, ports.ErrorUnknown, fmt.Sprintf("read failed: %v", err)), nil
		}

		var text string
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			text = extractText(body)
		} else {
			text = string(body)
		}

		cache.Set(args.URL, text)
		return okResult(call, truncateRunes(text, args.MaxChars)), nil
	}
}

func okResult(call ports.ToolCall, text string) ports.ToolExecutionResult {
	return ports.ToolExecutionResult{
		ID:     call.ID,
		Name:   call.Name,
		Status: ports.ToolStatusSuccess,
		Type:   ports.ResultText,
		Result: text,
	}
}

func errResult(call ports.ToolCall, reason ports.ErrorReason, message string) ports.ToolExecutionResult {
	return ports.ToolExecutionResult{
		ID:       call.ID,
		Name:     call.Name,
		Status:   ports.ToolStatusError,
		Type:     ports.ResultText,
		Result:   message,
		Metadata: &ports.ResultMetadata{ErrorReason: reason},
	}
}

func isSkipTag(tag string) bool {
	return tag == "script" || tag == "style" || tag == "noscript"
}

// extractText parses HTML and returns visible text, stripping script,
// style, and noscript elements.
func extractText(data []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skip := 0

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return collapseWhitespace(b.String())
		}
		tn, _ := tokenizer.TagName()
		tag := string(tn)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			if isSkipTag(tag) {
				skip++
			}
			if isBlockElement(tag) && b.Len() > 0 {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			if isSkipTag(tag) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "br", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "tr", "td", "th", "blockquote", "pre", "hr",
		"header", "footer", "section", "article", "nav", "main":
		return true
	}
	return false
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blanks++
			if blanks <= 1 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateRunes(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n\n[Truncated]"
}
