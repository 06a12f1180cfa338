package compiler

import (
	"regexp"
	"strings"

	"github.com/tova-lang/tova/internal/errors"
)

// blockCtx tells the parser which statement forms are legal at the
// current nesting level.
type blockCtx int

const (
	ctxTopLevel blockCtx = iota
	ctxShared
	ctxServer
	ctxClient
)

var (
	importRe    = regexp.MustCompile(`^import\s*\{([^}]*)\}\s*from\s*"([^"]+)"\s*$`)
	fnRe        = regexp.MustCompile(`^(pub\s+)?fn\s+([A-Za-z_]\w*)\s*\(([^)]*)\)\s*\{`)
	letRe       = regexp.MustCompile(`^(pub\s+)?let\s+([A-Za-z_]\w*)\s*=\s*(.+)$`)
	typeRe      = regexp.MustCompile(`^(pub\s+)?type\s+([A-Za-z_]\w*)\s*=\s*(.+)$`)
	traitRe     = regexp.MustCompile(`^(pub\s+)?trait\s+([A-Za-z_]\w*)\s*\{`)
	aliasRe     = regexp.MustCompile(`^(pub\s+)?alias\s+([A-Za-z_]\w*)\s*=\s*(.+)$`)
	blockRe     = regexp.MustCompile(`^(shared|server|client|test|bench)(\s+"([^"]+)")?\s*\{`)
	variantRe   = regexp.MustCompile(`^([A-Za-z_]\w*)\s*(\(([^)]*)\))?$`)
	componentRe = regexp.MustCompile(`^component\s+([A-Za-z_]\w*)\s*\(([^)]*)\)\s*\{`)
	stateRe     = regexp.MustCompile(`^state\s+([A-Za-z_]\w*)\s*=\s*(.+)$`)
	derivedRe   = regexp.MustCompile(`^derived\s+([A-Za-z_]\w*)\s*=\s*(.+)$`)
	storeRe     = regexp.MustCompile(`^store\s+([A-Za-z_]\w*)\s*\{`)
	modelRe     = regexp.MustCompile(`^model\s+([A-Za-z_]\w*)\s*\{`)
	routeRe     = regexp.MustCompile(`^(get|post|put|delete|patch)\s+"([^"]+)"\s*\{`)
	groupRe     = regexp.MustCompile(`^routes\s+"([^"]+)"\s*\{`)
	policyRe    = regexp.MustCompile(`^(database|cors|auth|session|compression|tls|upload|ratelimit)\s*\{`)
	discoverRe  = regexp.MustCompile(`^discover\s+([A-Za-z_]\w*)\s+at\s+"([^"]+)"\s*$`)
)

// Parse turns one source file's text into a Program. Statement bodies are
// captured verbatim; only declaration structure is parsed.
func Parse(text, path string) (*Program, error) {
	p := &parser{
		lines: strings.Split(text, "\n"),
		path:  path,
	}
	nodes, err := p.parseBody(ctxTopLevel, 0, len(p.lines))
	if err != nil {
		return nil, err
	}
	return &Program{
		Path:       path,
		Sources:    []string{path},
		SourceText: []string{text},
		Nodes:      nodes,
	}, nil
}

type parser struct {
	lines []string
	path  string
}

func (p *parser) errorAt(line int, format string, args ...any) error {
	return errors.New("E001").
		WithMessagef("Parse error: "+format, args...).
		WithLocation(p.path, line, 0)
}

// parseBody parses statements between lines [start, end).
func (p *parser) parseBody(ctx blockCtx, start, end int) ([]*Node, error) {
	var nodes []*Node
	i := start
	for i < end {
		raw := p.lines[i]
		line := stripComment(raw)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			i++
			continue
		}
		lineNo := i + 1

		node, next, err := p.parseStatement(ctx, trimmed, i, end)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, p.errorAt(lineNo, "unexpected statement %q", truncate(trimmed, 40))
		}
		node.Prov = Provenance{File: p.path, Line: lineNo}
		nodes = append(nodes, node)
		i = next
	}
	return nodes, nil
}

// parseStatement parses the statement whose header is at line index i.
// It returns the node and the index of the line after the statement.
func (p *parser) parseStatement(ctx blockCtx, trimmed string, i, end int) (*Node, int, error) {
	// Forms shared by every context.
	if m := fnRe.FindStringSubmatch(trimmed); m != nil {
		body, next, err := p.captureBlock(i, end)
		if err != nil {
			return nil, 0, err
		}
		return &Node{Kind: KindFunc, Public: m[1] != "", Name: m[2], Params: m[3], Lines: body}, next, nil
	}
	if m := letRe.FindStringSubmatch(trimmed); m != nil {
		return &Node{Kind: KindVar, Public: m[1] != "", Name: m[2], Expr: m[3]}, i + 1, nil
	}
	if m := discoverRe.FindStringSubmatch(trimmed); m != nil && ctx != ctxTopLevel {
		return &Node{Kind: KindDiscover, Name: m[1], Target: m[2]}, i + 1, nil
	}

	switch ctx {
	case ctxTopLevel, ctxShared:
		if m := importRe.FindStringSubmatch(trimmed); m != nil && ctx == ctxTopLevel {
			return &Node{Kind: KindImport, ImportNames: splitNames(m[1]), Target: m[2]}, i + 1, nil
		}
		if m := typeRe.FindStringSubmatch(trimmed); m != nil {
			variants, err := parseVariants(m[3])
			if err != nil {
				return nil, 0, p.errorAt(i+1, "invalid type declaration: %v", err)
			}
			return &Node{Kind: KindType, Public: m[1] != "", Name: m[2], Variants: variants, Expr: m[3]}, i + 1, nil
		}
		if m := traitRe.FindStringSubmatch(trimmed); m != nil {
			body, next, err := p.captureBlock(i, end)
			if err != nil {
				return nil, 0, err
			}
			return &Node{Kind: KindTrait, Public: m[1] != "", Name: m[2], Lines: body}, next, nil
		}
		if m := aliasRe.FindStringSubmatch(trimmed); m != nil {
			return &Node{Kind: KindAlias, Public: m[1] != "", Name: m[2], Expr: m[3]}, i + 1, nil
		}
		if ctx == ctxTopLevel {
			if m := blockRe.FindStringSubmatch(trimmed); m != nil {
				return p.parseBlock(m[1], m[3], i, end)
			}
		}

	case ctxServer:
		if m := modelRe.FindStringSubmatch(trimmed); m != nil {
			body, next, err := p.captureBlock(i, end)
			if err != nil {
				return nil, 0, err
			}
			return &Node{Kind: KindModel, Name: m[1], Lines: body}, next, nil
		}
		if m := routeRe.FindStringSubmatch(trimmed); m != nil {
			body, next, err := p.captureBlock(i, end)
			if err != nil {
				return nil, 0, err
			}
			return &Node{Kind: KindRoute, Method: strings.ToUpper(m[1]), RoutePath: m[2], Lines: body}, next, nil
		}
		if m := groupRe.FindStringSubmatch(trimmed); m != nil {
			blockEnd, err := p.findBlockEnd(i, end)
			if err != nil {
				return nil, 0, err
			}
			children, err := p.parseBody(ctxServer, i+1, blockEnd)
			if err != nil {
				return nil, 0, err
			}
			return &Node{Kind: KindRouteGroup, RoutePath: m[1], Body: children}, blockEnd + 1, nil
		}
		if m := policyRe.FindStringSubmatch(trimmed); m != nil {
			body, next, err := p.captureBlock(i, end)
			if err != nil {
				return nil, 0, err
			}
			return &Node{Kind: KindPolicy, Name: m[1], Lines: body}, next, nil
		}

	case ctxClient:
		if m := componentRe.FindStringSubmatch(trimmed); m != nil {
			body, next, err := p.captureBlock(i, end)
			if err != nil {
				return nil, 0, err
			}
			return &Node{Kind: KindComponent, Name: m[1], Params: m[2], Lines: body}, next, nil
		}
		if m := stateRe.FindStringSubmatch(trimmed); m != nil {
			return &Node{Kind: KindState, Name: m[1], Expr: m[2]}, i + 1, nil
		}
		if m := derivedRe.FindStringSubmatch(trimmed); m != nil {
			return &Node{Kind: KindDerived, Name: m[1], Expr: m[2]}, i + 1, nil
		}
		if m := storeRe.FindStringSubmatch(trimmed); m != nil {
			body, next, err := p.captureBlock(i, end)
			if err != nil {
				return nil, 0, err
			}
			return &Node{Kind: KindStore, Name: m[1], Lines: body}, next, nil
		}
	}

	return nil, 0, nil
}

// parseBlock parses a top-level shared/server/client/test/bench block.
func (p *parser) parseBlock(keyword, name string, i, end int) (*Node, int, error) {
	blockEnd, err := p.findBlockEnd(i, end)
	if err != nil {
		return nil, 0, err
	}

	var kind NodeKind
	var ctx blockCtx
	switch keyword {
	case "shared":
		kind, ctx = KindSharedBlock, ctxShared
	case "server":
		kind, ctx = KindServerBlock, ctxServer
	case "client":
		kind, ctx = KindClientBlock, ctxClient
	case "test":
		kind = KindTestBlock
	case "bench":
		kind = KindBenchBlock
	}

	if name != "" && kind != KindServerBlock && kind != KindClientBlock {
		return nil, 0, p.errorAt(i+1, "%s blocks cannot be named", keyword)
	}

	node := &Node{Kind: kind, BlockName: name}
	if kind == KindTestBlock || kind == KindBenchBlock {
		// Bodies of test/bench blocks pass through unparsed; the test
		// runner owns their contents.
		node.Lines = p.rawLines(i+1, blockEnd)
		return node, blockEnd + 1, nil
	}

	body, err := p.parseBody(ctx, i+1, blockEnd)
	if err != nil {
		return nil, 0, err
	}
	node.Body = body
	return node, blockEnd + 1, nil
}

// findBlockEnd locates the line holding the closing brace of the block
// whose opening brace is on line index i.
func (p *parser) findBlockEnd(i, end int) (int, error) {
	depth := 0
	for j := i; j < end; j++ {
		depth += braceDelta(p.lines[j])
		if depth == 0 && j > i {
			return j, nil
		}
		if depth == 0 && j == i && strings.Contains(stripComment(p.lines[j]), "}") {
			// Opened and closed on the same line.
			return j, nil
		}
	}
	return 0, p.errorAt(i+1, "unclosed block (missing '}')")
}

// captureBlock records the raw body of a brace-delimited statement.
func (p *parser) captureBlock(i, end int) ([]SourceLine, int, error) {
	blockEnd, err := p.findBlockEnd(i, end)
	if err != nil {
		return nil, 0, err
	}
	if blockEnd == i {
		// Opened and closed on one line: the body is the text between
		// the outer braces.
		line := stripComment(p.lines[i])
		open := strings.Index(line, "{")
		closing := strings.LastIndex(line, "}")
		if open >= 0 && closing > open {
			if inner := strings.TrimSpace(line[open+1 : closing]); inner != "" {
				return []SourceLine{{Text: inner, Line: i + 1}}, blockEnd + 1, nil
			}
		}
		return nil, blockEnd + 1, nil
	}
	return p.rawLines(i+1, blockEnd), blockEnd + 1, nil
}

func (p *parser) rawLines(start, end int) []SourceLine {
	var body []SourceLine
	for j := start; j < end; j++ {
		body = append(body, SourceLine{Text: p.lines[j], Line: j + 1})
	}
	return body
}

// braceDelta counts the net brace depth change of a line, skipping string
// literals and trailing comments.
func braceDelta(line string) int {
	delta := 0
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '/':
			if i+1 < len(line) && line[i+1] == '/' {
				return delta
			}
		case '{':
			delta++
		case '}':
			delta--
		}
	}
	return delta
}

// stripComment removes a trailing // comment, respecting string literals.
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '/':
			if i+1 < len(line) && line[i+1] == '/' {
				return line[:i]
			}
		}
	}
	return line
}

func splitNames(list string) []string {
	var names []string
	for _, part := range strings.Split(list, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func parseVariants(rhs string) ([]Variant, error) {
	var variants []Variant
	for _, part := range strings.Split(rhs, "|") {
		part = strings.TrimSpace(part)
		m := variantRe.FindStringSubmatch(part)
		if m == nil {
			return nil, errors.Newf(errors.CategoryCompile, "invalid variant %q", part)
		}
		variants = append(variants, Variant{Name: m[1], Params: m[3]})
	}
	return variants, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
