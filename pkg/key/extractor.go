package key

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/ohler55/ojg/jp"

	"github.com/l7mp/livesections/pkg/object"
)

// ErrMissingKey is returned by path based extractors when the path does not resolve.
var ErrMissingKey = errors.New("key path does not resolve")

// Extractor derives the section key of a document. Extractors must be pure functions of the
// document: the same document must always map to the same key.
type Extractor interface {
	Extract(doc object.Document) (Key, error)
}

// Func adapts a Go callback into an Extractor. The callback's return value is boxed with
// FromValue.
type Func func(doc object.Document) (any, error)

// Extract implements Extractor.
func (f Func) Extract(doc object.Document) (Key, error) {
	v, err := f(doc)
	if err != nil {
		return Null(), err
	}
	return FromValue(v)
}

// Safe runs an extractor and turns a panic raised by a user callback into an error.
func Safe(e Extractor, doc object.Document) (k Key, err error) {
	defer func() {
		if r := recover(); r != nil {
			k = Null()
			err = fmt.Errorf("key extractor panicked: %v", r)
		}
	}()
	return e.Extract(doc)
}

// JSONPath extracts the key with a JSONPath query.
type JSONPath struct {
	path         string
	exp          jp.Expr
	allowMissing bool
}

// JSONPathOption is an option for the JSONPath extractor.
type JSONPathOption func(*JSONPath)

// AllowMissing makes a non-resolving path yield the null key instead of an error.
func AllowMissing() JSONPathOption { return func(j *JSONPath) { j.allowMissing = true } }

// NewJSONPath parses a JSONPath query like "$.metadata.category" into an extractor. A bare field
// name is accepted as a shorthand for "$.<name>".
func NewJSONPath(path string, opts ...JSONPathOption) (*JSONPath, error) {
	exp, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	ret := &JSONPath{path: path, exp: exp}
	for _, o := range opts {
		o(ret)
	}
	return ret, nil
}

// Extract implements Extractor.
func (j *JSONPath) Extract(doc object.Document) (Key, error) {
	v, ok := GetPath(j.exp, doc)
	if !ok {
		if j.allowMissing {
			return Null(), nil
		}
		return Null(), fmt.Errorf("%w: %s", ErrMissingKey, j.path)
	}
	return FromValue(v)
}

func (j *JSONPath) String() string { return j.path }

// ParsePath parses a JSONPath query. Queries not starting with "$" are taken to be field names
// relative to the document root.
func ParsePath(path string) (jp.Expr, error) {
	if len(path) == 0 {
		return nil, errors.New("empty key path")
	}
	query := path
	if query[0] != '$' {
		query = "$." + query
	}
	exp, err := jp.ParseString(query)
	if err != nil {
		return nil, fmt.Errorf("invalid key path %q: %w", path, err)
	}
	return exp, nil
}

// GetPath evaluates a parsed JSONPath on a document and returns the first match.
func GetPath(exp jp.Expr, doc object.Document) (any, bool) {
	if doc == nil {
		return nil, false
	}
	values := exp.Get(doc)
	if len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

// Expr extracts the key by evaluating an expr-lang expression, with the document fields as the
// expression environment, e.g., `upper(name[0:1])` sections by first letter.
type Expr struct {
	code    string
	program *vm.Program
}

// NewExpr compiles an expression into an extractor.
func NewExpr(code string) (*Expr, error) {
	program, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile key expression %q: %w", code, err)
	}
	return &Expr{code: code, program: program}, nil
}

// Extract implements Extractor.
func (e *Expr) Extract(doc object.Document) (Key, error) {
	out, err := expr.Run(e.program, doc)
	if err != nil {
		return Null(), fmt.Errorf("failed to evaluate key expression %q: %w", e.code, err)
	}
	return FromValue(out)
}

func (e *Expr) String() string { return e.code }
