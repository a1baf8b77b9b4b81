package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/BKyryl/iesi/pkg/schema"
)

const luaStatePoolSize = 8

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// Lua evaluates sandboxed Lua chunks. A chunk that is a bare expression is
// evaluated as "return <chunk>". The first returned value is the result.
type Lua struct {
	pool chan *lua.State
}

// NewLua creates a Lua generator with a small state pool.
func NewLua() *Lua {
	return &Lua{pool: make(chan *lua.State, luaStatePoolSize)}
}

func (g *Lua) Generate(_ context.Context, args string) (string, error) {
	chunk := strings.TrimSpace(args)
	if chunk == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "empty lua chunk")
	}

	L := g.getState()
	defer g.returnState(L)

	if err := lua.LoadString(L, "return "+chunk); err != nil {
		L.SetTop(0)
		if err := lua.LoadString(L, chunk); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "lua load: %s", err.Error()).WithCause(err)
		}
	}
	if err := L.ProtectedCall(0, 1, 0); err != nil {
		return "", fmt.Errorf("lua execution: %w", err)
	}

	switch L.TypeOf(-1) {
	case lua.TypeNil:
		return "", nil
	case lua.TypeBoolean:
		if L.ToBoolean(-1) {
			return "true", nil
		}
		return "false", nil
	}
	s, ok := L.ToString(-1)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "lua chunk returned %s, want a scalar", lua.TypeNameOf(L, -1))
	}
	return s, nil
}

func (g *Lua) getState() *lua.State {
	select {
	case L := <-g.pool:
		return L
	default:
		L := lua.NewState()
		sandbox(L)
		return L
	}
}

func (g *Lua) returnState(L *lua.State) {
	L.SetTop(0)
	select {
	case g.pool <- L:
	default:
	}
}

func sandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global("_G")
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(-2, name)
	}
	L.Pop(1)
}
