// Package astscan implements the AST call-site extractor (C6). It parses a
// C++, Java, or Python source file with tree-sitter, walks call expressions
// (including dotted/qualified method calls), and reports each call site's
// fully qualified and base callee names plus its first argument's source
// text. Matching those call sites against the pattern registry's regex
// patterns happens one layer up, in internal/dispatch — this package only
// extracts candidates.
package astscan

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/standardbeagle/cryptoscan/internal/types"
)

// LangForExt maps a lowercased file extension (with leading dot) to the
// AST language it should be parsed as, or "" if unsupported.
func LangForExt(ext string) types.AstLang {
	switch ext {
	case ".cpp", ".cc", ".cxx", ".c", ".h", ".hpp":
		return types.LangCPP
	case ".java":
		return types.LangJava
	case ".py":
		return types.LangPython
	}
	return ""
}

func languageFor(lang types.AstLang) *tree_sitter.Language {
	switch lang {
	case types.LangCPP:
		return tree_sitter.NewLanguage(tree_sitter_cpp.Language())
	case types.LangJava:
		return tree_sitter.NewLanguage(tree_sitter_java.Language())
	case types.LangPython:
		return tree_sitter.NewLanguage(tree_sitter_python.Language())
	}
	return nil
}

// isCallNode reports whether kind is a call-expression node kind in one of
// the three supported grammars: C++ and Python both use "call_expression"/"call"
// respectively, Java uses "method_invocation" for qualified calls and
// "object_creation_expression" for `new X(...)`.
func isCallNode(kind string) bool {
	switch kind {
	case "call_expression", "call", "method_invocation", "object_creation_expression":
		return true
	}
	return false
}

// ExtractCallSites parses content as the given language and returns one
// AstSymbol per call expression found. A parse failure (bad grammar setup,
// which cannot happen for the three languages this package wires, or an
// empty buffer) yields an empty, non-nil-panicking result.
func ExtractCallSites(filePath string, lang types.AstLang, content []byte) []types.AstSymbol {
	language := languageFor(lang)
	if language == nil {
		return nil
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(language); err != nil {
		return nil
	}

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil
	}
	defer tree.Close()

	var out []types.AstSymbol
	var walk func(node *tree_sitter.Node)
	walk = func(node *tree_sitter.Node) {
		if node == nil {
			return
		}
		kind := node.Kind()
		if isCallNode(kind) {
			if sym, ok := symbolForCall(filePath, lang, kind, node, content); ok {
				out = append(out, sym)
			}
		}
		count := node.ChildCount()
		for i := uint(0); i < count; i++ {
			walk(node.Child(i))
		}
	}
	walk(tree.RootNode())
	return out
}

func nodeText(content []byte, node *tree_sitter.Node) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if start > end || end > uint(len(content)) {
		return ""
	}
	return string(content[start:end])
}

// symbolForCall extracts the callee's full text (e.g. "Cipher.getInstance",
// "CryptoScanner::scanFile", "hashlib.new"), its base name (the identifier
// after the last "." or "::"), and the source text of the first argument,
// if any.
func symbolForCall(filePath string, lang types.AstLang, kind string, node *tree_sitter.Node, content []byte) (types.AstSymbol, bool) {
	var calleeNode *tree_sitter.Node
	var argsNode *tree_sitter.Node

	switch kind {
	case "object_creation_expression":
		calleeNode = node.ChildByFieldName("type")
		argsNode = node.ChildByFieldName("arguments")
	default:
		calleeNode = node.ChildByFieldName("function")
		if calleeNode == nil {
			calleeNode = node.ChildByFieldName("name") // Java method_invocation uses "name"+"object"
		}
		argsNode = node.ChildByFieldName("arguments")
	}
	if calleeNode == nil {
		return types.AstSymbol{}, false
	}

	full := nodeText(content, calleeNode)
	if kind == "method_invocation" {
		if obj := node.ChildByFieldName("object"); obj != nil {
			full = nodeText(content, obj) + "." + full
		}
	}
	if full == "" {
		return types.AstSymbol{}, false
	}

	base := full
	if idx := lastSeparator(full); idx >= 0 {
		base = full[idx:]
	}

	firstArg := ""
	if argsNode != nil {
		count := argsNode.ChildCount()
		for i := uint(0); i < count; i++ {
			child := argsNode.Child(i)
			if child == nil {
				continue
			}
			k := child.Kind()
			if k == "(" || k == ")" || k == "," {
				continue
			}
			firstArg = nodeText(content, child)
			break
		}
	}

	line := int(node.StartPosition().Row) + 1

	return types.AstSymbol{
		FilePath:   filePath,
		Line:       line,
		Lang:       lang,
		CalleeFull: full,
		CalleeBase: base,
		FirstArg:   firstArg,
	}, true
}

// lastSeparator returns the index just past the last "." or "::" in s, or
// -1 if s has no qualifier.
func lastSeparator(s string) int {
	best := -1
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '.':
			best = i + 1
		case i+1 < len(s) && s[i] == ':' && s[i+1] == ':':
			best = i + 2
			i++
		}
	}
	return best
}
