package wat

import "fmt"

// Node is one S-expression: either a leaf token (Atom true) or a
// parenthesized list of child Nodes (Atom false), mirroring the text
// format's only real syntactic shape.
type Node struct {
	Atom     bool
	Token    Token
	Children []*Node
}

// Head returns the first child's token text when n is a list whose
// first element is a bare keyword (e.g. "func" in `(func ...)`), the
// convention every module field uses to tag its own form.
func (n *Node) Head() string {
	if n.Atom || len(n.Children) == 0 {
		return ""
	}
	first := n.Children[0]
	if !first.Atom {
		return ""
	}
	return first.Token.Text
}

// Rest returns n's children after the head keyword.
func (n *Node) Rest() []*Node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[1:]
}

// ParseProgram lexes and parses source into the top-level list of forms
// (normally a single `(module ...)`, but the bare instruction/field
// sequences the assembler's lower-level helpers accept are also valid
// top-level Nodes).
func ParseProgram(src string) ([]*Node, error) {
	lex := NewLexer(src)
	var nodes []*Node
	for {
		tok, err := lex.Next()
		if err != nil {
			return nil, err
		}
		if tok.Kind == TokEOF {
			return nodes, nil
		}
		node, err := parseOne(lex, tok)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
}

// parseOne parses a single form starting at tok, which has already been
// lexed (ParseProgram's lookahead or a recursive call's child lookahead).
func parseOne(lex *Lexer, tok Token) (*Node, error) {
	if tok.Kind == TokRParen {
		return nil, fmt.Errorf("wat: unexpected %q at line %d", ")", tok.Line)
	}
	if tok.Kind != TokLParen {
		return &Node{Atom: true, Token: tok}, nil
	}
	node := &Node{Atom: false}
	for {
		child, err := lex.Next()
		if err != nil {
			return nil, err
		}
		if child.Kind == TokEOF {
			return nil, fmt.Errorf("wat: unterminated list starting at line %d", tok.Line)
		}
		if child.Kind == TokRParen {
			return node, nil
		}
		childNode, err := parseOne(lex, child)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
}
