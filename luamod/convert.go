package luamod

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/keymod"
)

// luaToGo converts a Lua value into a plain Go value: bool, int64,
// float64, string, []any, map[string]any or nil. Tables with contiguous
// 1-based integer keys become slices, everything else becomes a map.
func luaToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		return tableToGo(v)
	default:
		return nil
	}
}

// tableToGo converts a Lua table to a slice or a map.
func tableToGo(t *lua.LTable) any {
	n := t.Len()
	if n > 0 {
		count := 0
		sequential := true
		t.ForEach(func(k, _ lua.LValue) {
			count++
			kn, ok := k.(lua.LNumber)
			if !ok || float64(kn) != math.Trunc(float64(kn)) || int(kn) < 1 || int(kn) > n {
				sequential = false
			}
		})
		if sequential && count == n {
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				arr[i-1] = luaToGo(t.RawGetInt(i))
			}
			return arr
		}
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = luaToGo(v)
	})
	return m
}

// toHandle coerces a script's ok value into an instance handle.
func toHandle(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("%w: negative handle %d", ErrBadReturn, n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || n < 0 {
			return 0, fmt.Errorf("%w: handle must be a non-negative integer, got %v", ErrBadReturn, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: handle must be a number, got %T", ErrBadReturn, v)
	}
}

// toStates coerces a script's ok value into a state vector. An empty Lua
// table converts to an empty map, so both shapes are accepted.
func toStates(v any) ([]uint16, error) {
	switch arr := v.(type) {
	case []any:
		states := make([]uint16, 0, len(arr))
		for i, elem := range arr {
			n, ok := elem.(int64)
			if !ok || n < 0 || n > math.MaxUint16 {
				return nil, fmt.Errorf("%w: state[%d] must be an integer in [0, %d], got %v", ErrBadReturn, i, math.MaxUint16, elem)
			}
			states = append(states, uint16(n))
		}
		return states, nil
	case map[string]any:
		if len(arr) == 0 {
			return []uint16{}, nil
		}
		return nil, fmt.Errorf("%w: state must be an array, got table with keys", ErrBadReturn)
	default:
		return nil, fmt.Errorf("%w: state must be an array, got %T", ErrBadReturn, v)
	}
}

// toName coerces a script's ok value into a driver name.
func toName(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: name must be a string, got %T", ErrBadReturn, v)
	}
	return s, nil
}

// dataArgs converts a keymod.Data into call arguments.
func dataArgs(data keymod.Data) []lua.LValue {
	return []lua.LValue{lua.LString(data.Name), lua.LString(data.Data)}
}

// luaInt wraps an int as a Lua number argument.
func luaInt(n int) lua.LValue {
	return lua.LNumber(n)
}
