package asm

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// The listing language is line oriented. Every entry sits on its own line:
//
//	.module Game
//	.mvid "6f1c..."
//	.type Game.Player : [Engine.Core]Engine.MonoBehaviour
//	  .field a : Game.Foo @get-self-component
//	  .method Awake() : void [private hidebysig initlocals]
//	    .locals count
//	    .line "Player.src" 4:9 4:21
//	    ldc.i4 7
//	  done:
//	    ret
//
// Generic calls name the template signature and the arguments:
//
//	call [Engine.Core]Engine.Component::GetComponent<Game.Foo>() : !!0
//	call static [Engine.Core]Engine.Object::FindObjectOfType<Game.Foo>() : !!0
var listingLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `;[^\n]*`},
	{Name: "EOL", Pattern: `\n`},
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Keyword", Pattern: `\.[a-z]+`},
	{Name: "Scoped", Pattern: `\[[A-Za-z_][\w.]*\][A-Za-z_][\w.]*`},
	{Name: "Generic", Pattern: `!!\d+`},
	{Name: "Array", Pattern: `\[\]`},
	{Name: "Int", Pattern: `-?\d+`},
	{Name: "Ident", Pattern: `[A-Za-z_][\w.]*`},
	{Name: "Attr", Pattern: `@[A-Za-z_][\w.-]*`},
	{Name: "Punct", Pattern: `::|[:(),<>\[\]]`},
})

var listingParser = participle.MustBuild[listing](
	participle.Lexer(listingLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

type listing struct {
	Entries []*entry `parser:"EOL* ( @@ EOL+ )*"`
}

type entry struct {
	Pos lexer.Position

	Module *string      `parser:"  '.module' @Ident"`
	MVID   *string      `parser:"| '.mvid' @String"`
	Type   *typeEntry   `parser:"| @@"`
	Field  *fieldEntry  `parser:"| @@"`
	Method *methodEntry `parser:"| @@"`
	Locals []string     `parser:"| '.locals' @Ident ( ',' @Ident )*"`
	Line   *lineEntry   `parser:"| @@"`
	Hidden bool         `parser:"| @'.hidden'"`
	Label  *string      `parser:"| @Ident ':'"`
	Instr  *instrEntry  `parser:"| @@"`
}

type typeEntry struct {
	Name string    `parser:"'.type' @( Ident | Scoped )"`
	Base *typeSpec `parser:"( ':' @@ )?"`
}

type fieldEntry struct {
	Static     bool             `parser:"'.field' @'static'?"`
	Name       string           `parser:"@Ident ':'"`
	Type       *typeSpec        `parser:"@@"`
	Directives []*directiveSpec `parser:"@@*"`
}

type methodEntry struct {
	Static     bool             `parser:"'.method' @'static'?"`
	Name       string           `parser:"@Ident"`
	Generic    int              `parser:"( '<' @Int '>' )?"`
	Params     []*typeSpec      `parser:"'(' ( @@ ( ',' @@ )* )? ')'"`
	Return     *typeSpec        `parser:"':' @@"`
	Flags      []string         `parser:"( '[' @Ident* ']' )?"`
	Directives []*directiveSpec `parser:"@@*"`
}

type directiveSpec struct {
	Name string   `parser:"@Attr"`
	Args []string `parser:"( '(' ( @String ( ',' @String )* )? ')' )?"`
}

type lineEntry struct {
	Document string    `parser:"'.line' @String"`
	Start    *position `parser:"@@"`
	End      *position `parser:"@@?"`
}

type position struct {
	Line   int `parser:"@Int ':'"`
	Column int `parser:"@Int"`
}

type instrEntry struct {
	Pos lexer.Position

	Op      string       `parser:"@Ident"`
	Operand *operandSpec `parser:"@@?"`
}

type operandSpec struct {
	Int *int32   `parser:"  @Int"`
	Str *string  `parser:"| @String"`
	Ref *refSpec `parser:"| @@"`
}

// refSpec names a label, a type, a field or a method, depending on what
// the opcode expects.
type refSpec struct {
	Static bool        `parser:"@'static'?"`
	Type   *typeSpec   `parser:"@@"`
	Member *memberSpec `parser:"( '::' @@ )?"`
}

type memberSpec struct {
	Name      string      `parser:"@Ident"`
	Args      []*typeSpec `parser:"( '<' @@ ( ',' @@ )* '>' )?"`
	Signature *signature  `parser:"@@?"`
}

type signature struct {
	Params []*typeSpec `parser:"'(' ( @@ ( ',' @@ )* )? ')'"`
	Return *typeSpec   `parser:"':' @@"`
}

type typeSpec struct {
	Name   string   `parser:"@( Scoped | Ident | Generic )"`
	Arrays []string `parser:"@Array*"`
}

func (t *typeSpec) String() string {
	s := t.Name
	for range t.Arrays {
		s += "[]"
	}
	return s
}
