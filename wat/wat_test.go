package wat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywasm/tinywasm/number"
)

func TestLexerBasic(t *testing.T) {
	t.Parallel()

	lex := NewLexer(`(module (func $add (param $a i32) (result i32) local.get $a))`)
	var kinds []TokenKind
	for {
		tok, err := lex.Next()
		require.NoError(t, err)
		if tok.Kind == TokEOF {
			break
		}
		kinds = append(kinds, tok.Kind)
	}
	assert.Contains(t, kinds, TokLParen)
	assert.Contains(t, kinds, TokKeyword)
	assert.Contains(t, kinds, TokID)
}

func TestLexerComments(t *testing.T) {
	t.Parallel()

	lex := NewLexer("(; nested (; comment ;) here ;) (module)")
	tok, err := lex.Next()
	require.NoError(t, err)
	assert.Equal(t, TokLParen, tok.Kind)
	tok, err = lex.Next()
	require.NoError(t, err)
	assert.Equal(t, "module", tok.Text)
}

func TestLexerUnterminatedBlockComment(t *testing.T) {
	t.Parallel()

	lex := NewLexer("(; unterminated")
	_, err := lex.Next()
	assert.Error(t, err)
}

func TestClassifyBareToken(t *testing.T) {
	t.Parallel()

	cases := map[string]TokenKind{
		"i32.add": TokKeyword,
		"123":     TokUnsignedInt,
		"-123":    TokSignedInt,
		"+5":      TokSignedInt,
		"1.5":     TokFloat,
		"0x1p3":   TokFloat,
		"0x7b":    TokUnsignedInt,
	}
	for text, want := range cases {
		assert.Equal(t, want, classifyBareToken(text), "text=%s", text)
	}
}

func TestParseProgramNested(t *testing.T) {
	t.Parallel()

	nodes, err := ParseProgram(`(module (memory 1 2) (func $f (result i32) (i32.const 42)))`)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	mod := nodes[0]
	assert.Equal(t, "module", mod.Head())
	fields := mod.Rest()
	require.Len(t, fields, 2)
	assert.Equal(t, "memory", fields[0].Head())
	assert.Equal(t, "func", fields[1].Head())
}

func TestParseProgramUnterminatedList(t *testing.T) {
	t.Parallel()

	_, err := ParseProgram(`(module (func)`)
	assert.Error(t, err)
}

func TestParseProgramUnexpectedCloseParen(t *testing.T) {
	t.Parallel()

	_, err := ParseProgram(`(module))`)
	assert.Error(t, err)
}

func TestAssembleMinimalAdd(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $add (param $a i32) (param $b i32) (result i32)
	    local.get $a
	    local.get $b
	    i32.add)
	  (export "add" (func $add)))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Types, 1)
	assert.Equal(t, 2, len(mod.Types[0].Params))
	assert.Equal(t, 1, len(mod.Types[0].Results))
	require.Len(t, mod.Funcs, 1)
	require.Len(t, mod.Exports, 1)
	assert.Equal(t, "add", mod.Exports[0].Name)
	assert.Equal(t, uint32(0), mod.Exports[0].Index)
}

func TestAssembleInlineExportAndImport(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (import "env" "log" (func $log (param i32)))
	  (func $report (export "report") (param i32)
	    local.get 0
	    call $log))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Imports, 1)
	require.Len(t, mod.Funcs, 1)
	require.Len(t, mod.Exports, 1)
	assert.Equal(t, "report", mod.Exports[0].Name)
	// The exported local func sits after the one imported func.
	assert.Equal(t, uint32(1), mod.Exports[0].Index)
}

func TestAssembleBlockLoopBranch(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $countdown (param $n i32) (result i32)
	    (local $i i32)
	    local.get $n
	    local.set $i
	    block $done
	      loop $again
	        local.get $i
	        i32.eqz
	        br_if $done
	        local.get $i
	        i32.const 1
	        i32.sub
	        local.set $i
	        br $again
	      end
	    end
	    local.get $i))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Funcs, 1)
	assert.NotEmpty(t, mod.Funcs[0].Body.Instructions)
}

func TestAssembleFoldedInstructions(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $square (param $x i32) (result i32)
	    (i32.mul (local.get $x) (local.get $x))))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Funcs, 1)
}

func TestAssembleGlobalAndMemory(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (memory (export "mem") 1 4)
	  (global $counter (export "counter") (mut i32) (i32.const 0)))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Mems, 1)
	require.Len(t, mod.Globals, 1)
	assert.True(t, mod.Globals[0].Type.Mutable)
	require.Len(t, mod.Exports, 2)
}

func TestAssembleElemAndData(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (table 2 funcref)
	  (memory 1)
	  (func $f (result i32) (i32.const 1))
	  (func $g (result i32) (i32.const 2))
	  (elem (i32.const 0) $f $g)
	  (data (i32.const 0) "hi"))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Elements, 1)
	assert.Equal(t, []uint32{0, 1}, mod.Elements[0].Functions)
	require.Len(t, mod.Data, 1)
	assert.Equal(t, []byte("hi"), mod.Data[0].Bytes)
}

func TestAssembleDuplicateIdentifier(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $f (result i32) (i32.const 1))
	  (func $f (result i32) (i32.const 2)))`

	_, err := Assemble(src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)
}

func TestAssembleUnresolvedLabel(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $f
	    block $a
	      br $nope
	    end))`

	_, err := Assemble(src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedIdentifier)
}

func TestAssembleIfElseFlat(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $abs (param $x i32) (result i32)
	    local.get $x
	    i32.const 0
	    i32.lt_s
	    if (result i32)
	      i32.const 0
	      local.get $x
	      i32.sub
	    else
	      local.get $x
	    end))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Funcs, 1)
}

func TestLexerStringHexAndUnicodeEscapes(t *testing.T) {
	t.Parallel()

	lex := NewLexer(`"\68\65\u{6C}\u{6C6F}"`)
	tok, err := lex.Next()
	require.NoError(t, err)
	assert.Equal(t, TokString, tok.Kind)
	assert.Equal(t, "hel汯", tok.Text)
}

func TestLexerStringRejectsUnknownEscape(t *testing.T) {
	t.Parallel()

	lex := NewLexer(`"\q"`)
	_, err := lex.Next()
	assert.Error(t, err)
}

func TestAssembleDataSegmentWithEscapedString(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (memory 1)
	  (data (i32.const 0) "\41\42\43"))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Data, 1)
	assert.Equal(t, []byte("ABC"), mod.Data[0].Bytes)
}

func TestParseFloat64LiteralNaNForms(t *testing.T) {
	t.Parallel()

	canonical, err := parseFloat64Literal(Token{Text: "nan:canonical"})
	require.NoError(t, err)
	assert.Equal(t, number.CanonicalNaN64, math.Float64bits(canonical))

	arithmetic, err := parseFloat64Literal(Token{Text: "nan:arithmetic"})
	require.NoError(t, err)
	assert.True(t, number.IsArithmeticNaN64(math.Float64bits(arithmetic)))

	payload, err := parseFloat64Literal(Token{Text: "nan:0x4000000000000"})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(payload))

	neg, err := parseFloat64Literal(Token{Text: "-nan:canonical"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), math.Float64bits(neg)>>63)
}

func TestParseFloat32LiteralNaNForms(t *testing.T) {
	t.Parallel()

	f, err := parseFloat32Literal(Token{Text: "nan:canonical"})
	require.NoError(t, err)
	assert.True(t, number.IsArithmeticNaN32(math.Float32bits(f)))

	_, err = parseFloat32Literal(Token{Text: "nan:0x200000"})
	require.NoError(t, err)

	_, err = parseFloat32Literal(Token{Text: "nan:0xnotgood"})
	assert.Error(t, err)
}

func TestAssembleF32ConstNaNCanonical(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $f (result f32) (f32.const nan:canonical)))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Funcs, 1)
}

func TestAssembleF64ConstNaNArithmetic(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $f (result f64) (f64.const nan:arithmetic)))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	require.Len(t, mod.Funcs, 1)
}

func TestAssembleStartFunction(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $init)
	  (start $init))`

	mod, err := Assemble(src)
	require.NoError(t, err)
	assert.True(t, mod.HasStart)
	assert.Equal(t, uint32(0), mod.Start)
}
