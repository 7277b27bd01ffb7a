// Package parser implements the AST Collector (spec.md §4.A): it parses one
// Python source file with tree-sitter and walks its top-level definitions
// for candidate test items, resolving the decorator-based marker vocabulary
// (skip, mark, parallel) syntactically — no import resolution, no
// evaluation. Reuses a per-language sync.Pool of parsers (here, one
// language) and a cached-sibling-scan pattern for decorator discovery.
package parser

import (
	"fmt"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	runnererrors "github.com/standardbeagle/taut/internal/errors"
	"github.com/standardbeagle/taut/internal/types"
)

// markerVocabulary is the closed set of decorator callee names the
// collector recognizes, per spec.md §4.A. Anything else is assumed to
// belong to some other decorator and is ignored.
var markerVocabulary = map[string]bool{
	"skip":     true,
	"mark":     true,
	"parallel": true,
}

var pythonPool = sync.Pool{
	New: func() any {
		p := tree_sitter.NewParser()
		lang := tree_sitter.NewLanguage(tree_sitter_python.Language())
		if err := p.SetLanguage(lang); err != nil {
			return nil
		}
		return p
	},
}

func acquireParser() *tree_sitter.Parser {
	p, _ := pythonPool.Get().(*tree_sitter.Parser)
	return p
}

func releaseParser(p *tree_sitter.Parser) {
	if p != nil {
		pythonPool.Put(p)
	}
}

// Collector parses Python source and extracts candidate test items.
type Collector struct{}

// NewCollector returns a ready-to-use Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Collect parses src (the contents of the file at path) and returns the
// candidate test items it defines, plus any non-fatal discovery warnings
// encountered along the way (an unparsable file, or a marker decorator with
// an unsupported value shape).
func (c *Collector) Collect(path string, src []byte) ([]types.TestItem, []runnererrors.DiscoveryWarning) {
	parser := acquireParser()
	if parser == nil {
		return nil, []runnererrors.DiscoveryWarning{{
			File:    path,
			Message: "failed to initialize python parser",
		}}
	}
	defer releaseParser(parser)

	// tree-sitter mutates the buffer it's handed via CGO; the caller's src
	// slice must not be shared with anything else that reads it concurrently.
	buf := make([]byte, len(src))
	copy(buf, src)

	tree := parser.Parse(buf, nil)
	if tree == nil {
		return nil, []runnererrors.DiscoveryWarning{{
			File:    path,
			Message: "failed to parse source",
		}}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, []runnererrors.DiscoveryWarning{{
			File:    path,
			Message: "empty parse tree",
		}}
	}
	if root.HasError() {
		return nil, []runnererrors.DiscoveryWarning{{
			File:    path,
			Message: "syntax error: file could not be parsed",
		}}
	}

	var items []types.TestItem
	var warnings []runnererrors.DiscoveryWarning

	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		if child == nil {
			continue
		}
		def, decorators := unwrapDecorated(child)
		if def == nil {
			continue
		}

		switch def.Kind() {
		case "function_definition":
			name := nodeText(def.ChildByFieldName("name"), buf)
			if !strings.HasPrefix(name, "test_") {
				continue
			}
			markers, ws := resolveMarkers(decorators, buf)
			warnings = append(warnings, tagWarnings(ws, path)...)
			items = append(items, types.TestItem{File: path, Function: name, Markers: markers})

		case "class_definition":
			name := nodeText(def.ChildByFieldName("name"), buf)
			if !strings.HasPrefix(name, "Test") {
				continue
			}
			classMarkers, ws := resolveMarkers(decorators, buf)
			warnings = append(warnings, tagWarnings(ws, path)...)

			body := def.ChildByFieldName("body")
			if body == nil {
				continue
			}
			for j := uint(0); j < body.NamedChildCount(); j++ {
				member := body.NamedChild(j)
				methodDef, methodDecorators := unwrapDecorated(member)
				if methodDef == nil || methodDef.Kind() != "function_definition" {
					continue
				}
				methodName := nodeText(methodDef.ChildByFieldName("name"), buf)
				if !strings.HasPrefix(methodName, "test_") {
					continue
				}
				methodMarkers, mws := resolveMarkers(methodDecorators, buf)
				warnings = append(warnings, tagWarnings(mws, path)...)
				merged := classMarkers.Merge(methodMarkers)
				items = append(items, types.TestItem{
					File: path, Class: name, Function: methodName, Markers: merged,
				})
			}
		}
	}

	return items, warnings
}

// unwrapDecorated returns the underlying function_definition or
// class_definition node plus its decorator nodes. tree-sitter-python wraps a
// decorated definition in a decorated_definition node with a "definition"
// field and zero or more preceding "decorator" children; an undecorated
// definition is returned as-is with no decorators.
func unwrapDecorated(node *tree_sitter.Node) (def *tree_sitter.Node, decorators []*tree_sitter.Node) {
	if node == nil {
		return nil, nil
	}
	if node.Kind() != "decorated_definition" {
		if node.Kind() == "function_definition" || node.Kind() == "class_definition" {
			return node, nil
		}
		return nil, nil
	}

	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		if child.Kind() == "decorator" {
			decorators = append(decorators, child)
		}
	}
	def = node.ChildByFieldName("definition")
	return def, decorators
}

// decoratorWarning carries a warning message not yet tagged with the source
// file, so resolveMarkers stays path-agnostic.
type decoratorWarning struct {
	Message string
}

func tagWarnings(ws []decoratorWarning, path string) []runnererrors.DiscoveryWarning {
	if len(ws) == 0 {
		return nil
	}
	out := make([]runnererrors.DiscoveryWarning, len(ws))
	for i, w := range ws {
		out[i] = runnererrors.DiscoveryWarning{File: path, Message: w.Message}
	}
	return out
}

// resolveMarkers interprets the marker-vocabulary decorators attached to one
// definition into a MarkerSet, per spec.md §4.A's semantics for skip, mark,
// and parallel.
func resolveMarkers(decorators []*tree_sitter.Node, src []byte) (types.MarkerSet, []decoratorWarning) {
	set := types.NewMarkerSet()
	var warnings []decoratorWarning

	for _, dec := range decorators {
		// A decorator node is "@" followed by either a bare identifier
		// (@skip) or a call expression (@skip("reason")).
		expr := decoratorExpr(dec)
		if expr == nil {
			continue
		}

		name, args := decoratorCall(expr, src)
		if !markerVocabulary[name] {
			continue
		}

		switch name {
		case "skip":
			set.Skip = true
			set.SkipReason = skipReason(args, src)

		case "parallel":
			set.Parallel = true

		case "mark":
			for _, kw := range args.keywords {
				v, ok := literalMarkerValue(kw.value, src)
				if !ok {
					warnings = append(warnings, decoratorWarning{
						Message: fmt.Sprintf("unsupported mark(%s=...) value shape, ignored", kw.key),
					})
					continue
				}
				set.Values[kw.key] = v
			}
		}
	}

	return set, warnings
}

// decoratorExpr returns the decorated expression node inside a decorator
// node (the part after "@").
func decoratorExpr(dec *tree_sitter.Node) *tree_sitter.Node {
	for i := uint(0); i < dec.NamedChildCount(); i++ {
		child := dec.NamedChild(i)
		if child != nil {
			return child
		}
	}
	return nil
}

// keywordArg is one `key=value` argument of a decorator call.
type keywordArg struct {
	key   string
	value *tree_sitter.Node
}

// callArgs is the parsed argument list of a decorator call expression.
type callArgs struct {
	positional []*tree_sitter.Node
	keywords   []keywordArg
}

// decoratorCall resolves a decorator expression to its callee name and
// argument list. A bare identifier decorator (@skip) has no arguments.
func decoratorCall(expr *tree_sitter.Node, src []byte) (name string, args callArgs) {
	switch expr.Kind() {
	case "identifier":
		return nodeText(expr, src), args
	case "call":
		fn := expr.ChildByFieldName("function")
		name = nodeText(fn, src)
		argList := expr.ChildByFieldName("arguments")
		if argList == nil {
			return name, args
		}
		for i := uint(0); i < argList.NamedChildCount(); i++ {
			arg := argList.NamedChild(i)
			if arg == nil {
				continue
			}
			if arg.Kind() == "keyword_argument" {
				key := nodeText(arg.ChildByFieldName("name"), src)
				val := arg.ChildByFieldName("value")
				args.keywords = append(args.keywords, keywordArg{key: key, value: val})
				continue
			}
			args.positional = append(args.positional, arg)
		}
		return name, args
	default:
		return "", args
	}
}

// skipReason resolves skip's reason argument, per spec.md §4.A:
//   - no argument: ""
//   - a single positional string literal: that string
//   - reason="<literal>": that string
func skipReason(args callArgs, src []byte) string {
	for _, kw := range args.keywords {
		if kw.key == "reason" {
			if s, ok := stringLiteralValue(kw.value, src); ok {
				return s
			}
		}
	}
	if len(args.positional) > 0 {
		if s, ok := stringLiteralValue(args.positional[0], src); ok {
			return s
		}
	}
	return ""
}

// literalMarkerValue resolves a mark() argument value to a MarkerValue,
// accepting only the literal shapes spec.md §4.A allows: booleans, strings,
// and lists of strings.
func literalMarkerValue(node *tree_sitter.Node, src []byte) (types.MarkerValue, bool) {
	if node == nil {
		return types.MarkerValue{}, false
	}
	switch node.Kind() {
	case "true":
		return types.BoolValue(true), true
	case "false":
		return types.BoolValue(false), true
	case "string":
		if s, ok := stringLiteralValue(node, src); ok {
			return types.StringValue(s), true
		}
		return types.MarkerValue{}, false
	case "list":
		var items []string
		for i := uint(0); i < node.NamedChildCount(); i++ {
			elem := node.NamedChild(i)
			if elem == nil || elem.Kind() != "string" {
				return types.MarkerValue{}, false
			}
			s, ok := stringLiteralValue(elem, src)
			if !ok {
				return types.MarkerValue{}, false
			}
			items = append(items, s)
		}
		return types.ListValue(items), true
	default:
		return types.MarkerValue{}, false
	}
}

// stringLiteralValue extracts the text content of a Python "string" node,
// stripping quotes and the string_start/string_end wrapper tree-sitter-python
// uses for simple (non-f-string) string literals.
func stringLiteralValue(node *tree_sitter.Node, src []byte) (string, bool) {
	if node == nil || node.Kind() != "string" {
		return "", false
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child != nil && child.Kind() == "string_content" {
			return nodeText(child, src), true
		}
	}
	return "", false
}

func nodeText(node *tree_sitter.Node, src []byte) string {
	if node == nil {
		return ""
	}
	return string(src[node.StartByte():node.EndByte()])
}
