package conversation

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Models wrap structured replies in markdown fences more often than not.
// ExtractJSON accepts bare JSON, a ```json fence, or any fence whose body
// parses as JSON, in that order. ErrParseFailure when none of them do.
func ExtractJSON(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrParseFailure
	}

	if raw, ok := tryJSON(trimmed); ok {
		return raw, nil
	}

	var jsonFence, anyFence json.RawMessage
	for _, block := range fencedBlocks([]byte(trimmed)) {
		raw, ok := tryJSON(block.body)
		if !ok {
			continue
		}
		if strings.EqualFold(block.lang, "json") && jsonFence == nil {
			jsonFence = raw
		}
		if anyFence == nil {
			anyFence = raw
		}
	}
	if jsonFence != nil {
		return jsonFence, nil
	}
	if anyFence != nil {
		return anyFence, nil
	}
	return nil, ErrParseFailure
}

func tryJSON(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return nil, false
	}
	if !json.Valid([]byte(s)) {
		return nil, false
	}
	return json.RawMessage(s), true
}

type fence struct {
	lang string
	body string
}

var markdownParser = sync.OnceValue(func() goldmark.Markdown {
	return goldmark.New()
})

// fencedBlocks walks the markdown AST and collects fenced code blocks in
// document order.
func fencedBlocks(src []byte) []fence {
	doc := markdownParser().Parser().Parse(text.NewReader(src))
	var out []fence
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fc, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var body bytes.Buffer
		lines := fc.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			body.Write(seg.Value(src))
		}
		out = append(out, fence{
			lang: string(fc.Language(src)),
			body: body.String(),
		})
		return ast.WalkContinue, nil
	})
	return out
}
