package extractor

import (
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonExtractor implements LanguageExtractor for Python source files.
type PythonExtractor struct{}

func (p *PythonExtractor) GetLanguage() *sitter.Language {
	return python.GetLanguage()
}

// ExtractUnits returns one CodeUnit per top-level function. Nested class
// definitions and decorated functions are still returned so that their
// unsupported constructs surface instead of being silently skipped.
func (p *PythonExtractor) ExtractUnits(root *sitter.Node, sourceCode []byte, filepath string) []*CodeUnit {
	var units []*CodeUnit
	fileLevel := fileLevelConstructs(root, sourceCode)

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		node := child
		if child.Type() == "decorated_definition" {
			node = child.ChildByFieldName("definition")
			if node == nil {
				continue
			}
		}
		if node.Type() != "function_definition" {
			continue
		}
		unit := p.extractFunctionUnit(node, sourceCode, filepath)
		if unit == nil {
			continue
		}
		if child.Type() == "decorated_definition" {
			unit.Unsupported = appendUnique(unit.Unsupported, "decorator")
			unit.StartLine = int(child.StartPoint().Row + 1)
		}
		for _, c := range fileLevel {
			unit.Unsupported = appendUnique(unit.Unsupported, c)
		}
		units = append(units, unit)
	}
	return units
}

// fileLevelConstructs reports constructs that make every function in the
// file unsafe to analyze in isolation.
func fileLevelConstructs(root *sitter.Node, sourceCode []byte) []string {
	var out []string
	if root.HasError() {
		out = append(out, "syntax_error")
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		if root.NamedChild(i).Type() == "class_definition" {
			out = appendUnique(out, "class_definition")
		}
	}
	return out
}

func (p *PythonExtractor) extractFunctionUnit(node *sitter.Node, src []byte, filepath string) *CodeUnit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nameNode.Content(src)

	unit := &CodeUnit{
		ID:        fmt.Sprintf("%s:%s:%d", filepath, name, node.StartPoint().Row+1),
		Filepath:  filepath,
		Language:  "python",
		StartLine: int(node.StartPoint().Row + 1),
		EndLine:   int(node.EndPoint().Row + 1),
		Content:   node.Content(src),
		Name:      name,
		Params:    []Param{},
	}

	c := &converter{src: src}
	if node.ChildCount() > 0 && node.Child(0).Type() == "async" {
		c.flag("async_function")
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		unit.Params = c.params(params)
	}
	if rt := node.ChildByFieldName("return_type"); rt != nil {
		unit.ReturnType = normalizeType(rt.Content(src))
	} else {
		c.flag("unannotated_return")
	}
	for _, prm := range unit.Params {
		switch {
		case prm.Type == "":
			c.flag("unannotated_parameter")
		case isDynamicType(prm.Type):
			c.flag("dynamic_type")
		}
	}
	if isDynamicType(unit.ReturnType) {
		c.flag("dynamic_type")
	}

	if body := node.ChildByFieldName("body"); body != nil {
		unit.Description = docstring(body, src)
		unit.Body = c.block(body)
	}

	unit.Features = analyze(unit)
	unit.Unsupported = append(unit.Unsupported, c.unsupported...)
	return unit
}

// converter lowers tree-sitter nodes into the normalized IR, recording
// unsupported constructs as it goes.
type converter struct {
	src         []byte
	unsupported []string
}

func (c *converter) flag(construct string) {
	c.unsupported = appendUnique(c.unsupported, construct)
}

func (c *converter) params(node *sitter.Node) []Param {
	params := []Param{}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		n := node.NamedChild(i)
		switch n.Type() {
		case "identifier":
			params = append(params, Param{Name: n.Content(c.src)})
		case "typed_parameter":
			var pname string
			for j := 0; j < int(n.NamedChildCount()); j++ {
				if id := n.NamedChild(j); id.Type() == "identifier" {
					pname = id.Content(c.src)
					break
				}
			}
			if pname == "" {
				c.flag("variadic_parameter")
				continue
			}
			var ptype string
			if tn := n.ChildByFieldName("type"); tn != nil {
				ptype = normalizeType(tn.Content(c.src))
			}
			params = append(params, Param{Name: pname, Type: ptype})
		case "default_parameter", "typed_default_parameter":
			c.flag("default_parameter")
			var ptype string
			if tn := n.ChildByFieldName("type"); tn != nil {
				ptype = normalizeType(tn.Content(c.src))
			}
			if nn := n.ChildByFieldName("name"); nn != nil {
				params = append(params, Param{Name: nn.Content(c.src), Type: ptype})
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			c.flag("variadic_parameter")
		}
	}
	return params
}

func (c *converter) block(node *sitter.Node) []*Stmt {
	var out []*Stmt
	for i := 0; i < int(node.NamedChildCount()); i++ {
		n := node.NamedChild(i)
		if n.Type() == "comment" {
			continue
		}
		if i == 0 && isDocstring(n) {
			continue
		}
		if s := c.stmt(n); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *converter) stmt(n *sitter.Node) *Stmt {
	line := int(n.StartPoint().Row + 1)
	switch n.Type() {
	case "return_statement":
		s := &Stmt{Kind: StmtReturn, Line: line}
		if n.NamedChildCount() > 0 {
			s.Value = c.expr(n.NamedChild(0))
		} else {
			s.Value = &Expr{Kind: ExprNone}
		}
		return s
	case "if_statement":
		return c.ifStmt(n, line)
	case "for_statement":
		if n.ChildCount() > 0 && n.Child(0).Type() == "async" {
			c.flag("async_for")
		}
		if n.ChildByFieldName("alternative") != nil {
			c.flag("loop_else")
		}
		s := &Stmt{Kind: StmtFor, Line: line}
		if left := n.ChildByFieldName("left"); left != nil {
			if left.Type() == "identifier" {
				s.LoopVar = left.Content(c.src)
			} else {
				c.flag("destructuring_loop")
			}
		}
		if right := n.ChildByFieldName("right"); right != nil {
			s.Iter = c.expr(right)
		}
		if body := n.ChildByFieldName("body"); body != nil {
			s.Body = c.block(body)
		}
		return s
	case "while_statement":
		if n.ChildByFieldName("alternative") != nil {
			c.flag("loop_else")
		}
		s := &Stmt{Kind: StmtWhile, Line: line}
		if cond := n.ChildByFieldName("condition"); cond != nil {
			s.Cond = c.expr(cond)
		}
		if body := n.ChildByFieldName("body"); body != nil {
			s.Body = c.block(body)
		}
		return s
	case "expression_statement":
		if n.NamedChildCount() == 0 {
			return nil
		}
		inner := n.NamedChild(0)
		switch inner.Type() {
		case "assignment":
			return c.assignment(inner, line)
		case "augmented_assignment":
			s := &Stmt{Kind: StmtAugAssign, Line: line}
			if left := inner.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
				s.Target = left.Content(c.src)
			} else {
				c.flag("complex_assignment")
			}
			if op := inner.ChildByFieldName("operator"); op != nil {
				s.Op = strings.TrimSuffix(op.Type(), "=")
			}
			if right := inner.ChildByFieldName("right"); right != nil {
				s.Value = c.expr(right)
			}
			return s
		case "yield":
			c.flag("generator_yield")
			return &Stmt{Kind: StmtOther, Line: line, Raw: inner.Content(c.src)}
		}
		return &Stmt{Kind: StmtExpr, Value: c.expr(inner), Line: line}
	case "pass_statement":
		return &Stmt{Kind: StmtPass, Line: line}
	case "break_statement":
		return &Stmt{Kind: StmtBreak, Line: line}
	case "continue_statement":
		return &Stmt{Kind: StmtContinue, Line: line}
	case "raise_statement":
		return &Stmt{Kind: StmtRaise, Line: line, Raw: n.Content(c.src)}
	case "assert_statement":
		s := &Stmt{Kind: StmtAssert, Line: line}
		if n.NamedChildCount() > 0 {
			s.Cond = c.expr(n.NamedChild(0))
		}
		return s
	case "class_definition":
		c.flag("class_definition")
	case "function_definition", "decorated_definition":
		c.flag("nested_function")
	case "import_statement", "import_from_statement":
		c.flag("import")
	case "global_statement", "nonlocal_statement":
		c.flag("global_state")
	case "with_statement":
		c.flag("context_manager")
	case "try_statement":
		c.flag("exception_handling")
	case "match_statement":
		c.flag("match_statement")
	case "delete_statement":
		c.flag("delete_statement")
	default:
		c.flag("statement:" + n.Type())
	}
	return &Stmt{Kind: StmtOther, Line: line, Raw: n.Content(c.src)}
}

func (c *converter) assignment(n *sitter.Node, line int) *Stmt {
	s := &Stmt{Kind: StmtAssign, Line: line}
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || left.Type() != "identifier" {
		c.flag("complex_assignment")
		return &Stmt{Kind: StmtOther, Line: line, Raw: n.Content(c.src)}
	}
	s.Target = left.Content(c.src)
	if right == nil {
		// Bare annotation: `x: int`
		return &Stmt{Kind: StmtPass, Line: line}
	}
	if right.Type() == "assignment" {
		c.flag("chained_assignment")
	}
	s.Value = c.expr(right)
	return s
}

func (c *converter) ifStmt(n *sitter.Node, line int) *Stmt {
	s := &Stmt{Kind: StmtIf, Line: line}
	if cond := n.ChildByFieldName("condition"); cond != nil {
		s.Cond = c.expr(cond)
	}
	if cons := n.ChildByFieldName("consequence"); cons != nil {
		s.Then = c.block(cons)
	}

	// elif/else clauses hang off the if_statement in source order; fold them
	// into a right-nested chain.
	var clauses []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		if ch.Type() == "elif_clause" || ch.Type() == "else_clause" {
			clauses = append(clauses, ch)
		}
	}
	tail := &s.Else
	for _, cl := range clauses {
		if cl.Type() == "else_clause" {
			if body := cl.ChildByFieldName("body"); body != nil {
				*tail = c.block(body)
			}
			break
		}
		elif := &Stmt{Kind: StmtIf, Line: int(cl.StartPoint().Row + 1)}
		if cond := cl.ChildByFieldName("condition"); cond != nil {
			elif.Cond = c.expr(cond)
		}
		if cons := cl.ChildByFieldName("consequence"); cons != nil {
			elif.Then = c.block(cons)
		}
		*tail = []*Stmt{elif}
		tail = &elif.Else
	}
	return s
}

func (c *converter) expr(n *sitter.Node) *Expr {
	raw := n.Content(c.src)
	switch n.Type() {
	case "identifier":
		return &Expr{Kind: ExprName, Name: raw}
	case "integer":
		v, err := strconv.ParseInt(raw, 0, 64)
		if err != nil {
			c.flag("big_integer")
			return &Expr{Kind: ExprUnknown, Raw: raw}
		}
		return &Expr{Kind: ExprInt, Value: v}
	case "float":
		return &Expr{Kind: ExprFloat, Raw: raw}
	case "true":
		return &Expr{Kind: ExprBool, Value: 1}
	case "false":
		return &Expr{Kind: ExprBool, Value: 0}
	case "none":
		return &Expr{Kind: ExprNone}
	case "string", "concatenated_string":
		return &Expr{Kind: ExprString, Raw: raw}
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			return c.expr(n.NamedChild(0))
		}
	case "binary_operator":
		op := n.ChildByFieldName("operator")
		l, r := n.ChildByFieldName("left"), n.ChildByFieldName("right")
		if op != nil && l != nil && r != nil {
			return BinOp(op.Type(), c.expr(l), c.expr(r))
		}
	case "boolean_operator":
		op := n.ChildByFieldName("operator")
		l, r := n.ChildByFieldName("left"), n.ChildByFieldName("right")
		if op != nil && l != nil && r != nil {
			return &Expr{Kind: ExprBoolOp, Op: op.Type(), Args: []*Expr{c.expr(l), c.expr(r)}}
		}
	case "not_operator":
		if arg := n.ChildByFieldName("argument"); arg != nil {
			return &Expr{Kind: ExprNot, Args: []*Expr{c.expr(arg)}}
		}
	case "unary_operator":
		op := n.ChildByFieldName("operator")
		arg := n.ChildByFieldName("argument")
		if op != nil && arg != nil {
			inner := c.expr(arg)
			switch op.Type() {
			case "-":
				if inner.Kind == ExprInt {
					return Int(-inner.Value)
				}
				return &Expr{Kind: ExprNeg, Args: []*Expr{inner}}
			case "+":
				return inner
			}
		}
	case "comparison_operator":
		e := &Expr{Kind: ExprCompare}
		for i := 0; i < int(n.ChildCount()); i++ {
			ch := n.Child(i)
			if ch.IsNamed() {
				e.Args = append(e.Args, c.expr(ch))
			} else {
				e.Ops = append(e.Ops, ch.Type())
			}
		}
		if len(e.Args) == len(e.Ops)+1 && len(e.Ops) > 0 {
			return e
		}
	case "call":
		return c.call(n, raw)
	case "subscript":
		value := n.ChildByFieldName("value")
		index := n.ChildByFieldName("subscript")
		if value != nil && index != nil {
			if index.Type() == "slice" {
				c.flag("slice")
				break
			}
			return &Expr{Kind: ExprSubscript, Args: []*Expr{c.expr(value), c.expr(index)}}
		}
	case "tuple", "expression_list":
		return &Expr{Kind: ExprTuple, Args: c.exprs(n)}
	case "list":
		return &Expr{Kind: ExprList, Args: c.exprs(n)}
	case "set":
		return &Expr{Kind: ExprSet, Args: c.exprs(n)}
	case "conditional_expression":
		if n.NamedChildCount() == 3 {
			return Cond(c.expr(n.NamedChild(1)), c.expr(n.NamedChild(0)), c.expr(n.NamedChild(2)))
		}
	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		return &Expr{Kind: ExprComprehension, Raw: raw}
	case "await":
		c.flag("await_expression")
	case "yield":
		c.flag("generator_yield")
	case "lambda":
		c.flag("lambda")
	case "attribute":
		c.flag("attribute_access")
	case "dictionary":
		c.flag("dictionary")
	}
	return &Expr{Kind: ExprUnknown, Raw: raw}
}

func (c *converter) exprs(n *sitter.Node) []*Expr {
	var out []*Expr
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		if ch.Type() == "comment" {
			continue
		}
		out = append(out, c.expr(ch))
	}
	return out
}

func (c *converter) call(n *sitter.Node, raw string) *Expr {
	fn := n.ChildByFieldName("function")
	argsNode := n.ChildByFieldName("arguments")
	if fn == nil || argsNode == nil {
		return &Expr{Kind: ExprUnknown, Raw: raw}
	}
	if argsNode.Type() != "argument_list" {
		// Bare generator argument: f(x for x in xs)
		return &Expr{Kind: ExprComprehension, Raw: raw}
	}
	for i := 0; i < int(argsNode.NamedChildCount()); i++ {
		switch argsNode.NamedChild(i).Type() {
		case "keyword_argument", "list_splat", "dictionary_splat":
			c.flag("keyword_arguments")
		}
	}
	args := c.exprs(argsNode)

	switch fn.Type() {
	case "identifier":
		name := fn.Content(c.src)
		if !builtinCalls[name] {
			c.flag("external_call")
		}
		return &Expr{Kind: ExprCall, Name: name, Args: args}
	case "attribute":
		obj := fn.ChildByFieldName("object")
		attr := fn.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			break
		}
		method := attr.Content(c.src)
		if obj.Type() != "identifier" || !collectionMethods[method] {
			c.flag("external_call")
			return &Expr{Kind: ExprUnknown, Raw: raw}
		}
		return &Expr{Kind: ExprMethodCall, Name: method, Args: append([]*Expr{c.expr(obj)}, args...)}
	}
	c.flag("external_call")
	return &Expr{Kind: ExprUnknown, Raw: raw}
}

var builtinCalls = map[string]bool{
	"len":   true,
	"abs":   true,
	"min":   true,
	"max":   true,
	"range": true,
}

var collectionMethods = map[string]bool{
	"append": true,
	"insert": true,
}

var dynamicTypes = map[string]bool{
	"Any":        true,
	"object":     true,
	"typing.Any": true,
}

func isDynamicType(t string) bool { return dynamicTypes[t] }

// normalizeType strips whitespace so `List[ int ]` and `List[int]` compare equal.
func normalizeType(t string) string {
	return strings.Join(strings.Fields(t), "")
}

func isDocstring(n *sitter.Node) bool {
	return n.Type() == "expression_statement" && n.NamedChildCount() == 1 && n.NamedChild(0).Type() == "string"
}

func docstring(body *sitter.Node, src []byte) string {
	if body.NamedChildCount() == 0 || !isDocstring(body.NamedChild(0)) {
		return ""
	}
	raw := body.NamedChild(0).Content(src)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			raw = raw[len(q) : len(raw)-len(q)]
			break
		}
	}
	return strings.TrimSpace(raw)
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
