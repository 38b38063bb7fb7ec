package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/loom/module"
	"github.com/chazu/loom/symbols"
)

const playerListing = `
; a behaviour with an existing initializer
.module Game
.mvid "8d3c1f2e-6b7a-4c1d-9e2f-0a1b2c3d4e5f"

.type Game.Foo
.type Game.Bar
.type Game.Player : [Engine.Core]Engine.MonoBehaviour
  .field health : [System]System.Int32
  .field a : Game.Foo @get-self-component
  .field bs : Game.Bar[] @get-child-component
  .field static count : [System]System.Int32
  .field tagged : Game.Foo @note("x", "y z")

  .method Awake() : void [private hidebysig initlocals]
    .locals alive
    .line "Player.src" 4:9 4:30
    ldarg.0
    ldfld Game.Player::health
    brtrue done
    .line "Player.src" 5:13
    ldstr "dead"
    call static [Engine.Core]Engine.Debug::Log([System]System.String) : void
    ldarg.0
    call Game.Player::Init() : void
  done:
    .hidden
    ret

  .method public Init() : void
    ldarg.0
    ldarg.0
    call [Engine.Core]Engine.Component::GetComponent<Game.Foo>() : !!0
    stfld Game.Player::a
    ldarg.0
    call static [Engine.Core]Engine.Object::FindObjectsOfType<Game.Bar>() : !!0[]
    stfld Game.Player::bs
    ret
`

func TestAssemblePlayer(t *testing.T) {
	m, err := Assemble("player.lasm", []byte(playerListing))
	require.NoError(t, err)
	require.NoError(t, module.Validate(m))

	assert.Equal(t, "Game", m.Name)
	assert.Equal(t, "8d3c1f2e-6b7a-4c1d-9e2f-0a1b2c3d4e5f", m.MVID.String())
	require.Len(t, m.Types, 3)

	p := m.Type("Game.Player")
	require.NotNil(t, p)
	assert.Equal(t, "[Engine.Core]Engine.MonoBehaviour", p.Base.String())
	assert.True(t, m.InheritsFrom(p, "Engine.MonoBehaviour"))

	a := p.Field("a")
	require.NotNil(t, a)
	assert.Equal(t, []module.Directive{{Name: "get-self-component"}}, a.Directives)
	assert.Equal(t, "Game.Bar[]", p.Field("bs").Type.String())
	assert.True(t, p.Field("count").IsStatic())
	assert.Equal(t, []string{"x", "y z"}, p.Field("tagged").Directives[0].Args)

	awake := p.Method("Awake")
	require.NotNil(t, awake)
	assert.Equal(t, module.MethodPrivate|module.MethodHideBySig, awake.Attrs)
	assert.True(t, awake.InitLocals)
	require.Len(t, awake.Body, 8)
	assert.Same(t, awake.Body[7], awake.Body[2].Operand, "brtrue jumps to done")
	assert.Same(t, p.Method("Init"), awake.Body[6].Operand)
	assert.Equal(t, "dead", awake.Body[3].Operand)

	require.NotNil(t, awake.Debug)
	assert.Equal(t, []string{"alive"}, awake.Debug.LocalNames)
	require.Len(t, awake.Debug.Points, 3)
	first := awake.Debug.Points[0]
	assert.Same(t, awake.Body[0], first.Instruction)
	assert.Equal(t, []int{4, 9, 4, 30}, []int{first.StartLine, first.StartColumn, first.EndLine, first.EndColumn})
	second := awake.Debug.Points[1]
	assert.Equal(t, []int{5, 13, 5, 13}, []int{second.StartLine, second.StartColumn, second.EndLine, second.EndColumn})
	hidden := awake.Debug.Points[2]
	assert.True(t, hidden.Hidden)
	assert.Equal(t, "Player.src", hidden.Document)
	assert.Same(t, awake.Body[7], hidden.Instruction)

	init := p.Method("Init")
	spec, ok := init.Body[2].Operand.(*module.GenericInstanceMethod)
	require.True(t, ok)
	assert.True(t, spec.HasThis())
	assert.Equal(t, "Game.Foo", spec.ReturnType().String())
	find, ok := init.Body[5].Operand.(*module.GenericInstanceMethod)
	require.True(t, ok)
	assert.False(t, find.HasThis())
	assert.Equal(t, "Game.Bar[]", find.ReturnType().String())
}

func TestAssembledModuleRoundTrips(t *testing.T) {
	m, err := Assemble("player.lasm", []byte(playerListing))
	require.NoError(t, err)

	img, err := module.Write(m)
	require.NoError(t, err)
	sym, err := symbols.Write(m)
	require.NoError(t, err)

	got, err := module.Read(img)
	require.NoError(t, err)
	require.NoError(t, symbols.Attach(got, sym))
	assert.Equal(t, module.Disassemble(m), module.Disassemble(got))
}

func TestModuleNameDefaultsToFileName(t *testing.T) {
	m, err := Assemble("dir/Gameplay.lasm", []byte(".type Game.Foo"))
	require.NoError(t, err)
	assert.Equal(t, "Gameplay", m.Name)
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown opcode",
			src:  ".type T\n.method M() : void\n  jump\n",
			want: `unknown opcode "jump"`,
		},
		{
			name: "undefined label",
			src:  ".type T\n.method M() : void\n  br nowhere\n",
			want: "undefined label nowhere",
		},
		{
			name: "unknown field",
			src:  ".type T\n.method M() : void\n  ldarg.0\n  ldfld T::missing\n  pop\n  ret\n",
			want: "T has no field missing",
		},
		{
			name: "missing operand",
			src:  ".type T\n.method M() : void\n  ldc.i4\n",
			want: "ldc.i4 expects a int32 operand",
		},
		{
			name: "unexpected operand",
			src:  ".type T\n.method M() : void\n  ret 1\n",
			want: "ret takes no operand",
		},
		{
			name: "field outside type",
			src:  ".field x : T\n",
			want: ".field outside a type",
		},
		{
			name: "duplicate type",
			src:  ".type T\n.type T\n",
			want: "type T declared twice",
		},
		{
			name: "dangling label",
			src:  ".type T\n.method M() : void\n  ret\nend:\n",
			want: "label end is not followed by an instruction",
		},
		{
			name: "open generic argument",
			src:  ".type T\n.method M() : void\n  ldarg.0\n  call [E]E.C::Get<!!0>() : !!0\n  pop\n  ret\n",
			want: "open generic type",
		},
		{
			name: "unknown method flag",
			src:  ".type T\n.method M() : void [sealed]\n  ret\n",
			want: `unknown method flag "sealed"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble("bad.lasm", []byte(tt.src))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAssemble)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSyntaxError(t *testing.T) {
	_, err := Assemble("bad.lasm", []byte(".type T\n.field : T\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.lasm:2")
}

func TestMustAssemblePanics(t *testing.T) {
	assert.Panics(t, func() { MustAssemble("bad.lasm", ".type T\n  ldarg.0\n") })
}
