package result

import (
	"errors"
	"testing"
)

func TestFromValue(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantOK  any
		wantErr string
		wantBad bool
	}{
		{
			name:   "ok number",
			value:  map[string]any{"ok": int64(3)},
			wantOK: int64(3),
		},
		{
			name:   "ok with nil err",
			value:  map[string]any{"ok": "Layer0", "err": nil},
			wantOK: "Layer0",
		},
		{
			name:    "err string",
			value:   map[string]any{"err": "missing fields in data"},
			wantErr: "missing fields in data",
		},
		{
			name:    "err wins when both set",
			value:   map[string]any{"ok": int64(1), "err": "boom"},
			wantErr: "boom",
		},
		{
			name:    "not a map",
			value:   int64(3),
			wantBad: true,
		},
		{
			name:    "empty map",
			value:   map[string]any{},
			wantBad: true,
		},
		{
			name:    "err not a string",
			value:   map[string]any{"err": int64(1)},
			wantBad: true,
		},
		{
			name:    "err empty string",
			value:   map[string]any{"err": ""},
			wantBad: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := FromValue(tt.value)
			if tt.wantBad {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("FromValue() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromValue() error = %v", err)
			}
			if tt.wantErr != "" {
				if !env.IsErr() || env.Err != tt.wantErr {
					t.Fatalf("envelope = %+v, want err %q", env, tt.wantErr)
				}
				return
			}
			if env.IsErr() {
				t.Fatalf("envelope = %+v, want ok %v", env, tt.wantOK)
			}
			if env.OK != tt.wantOK {
				t.Errorf("OK = %v, want %v", env.OK, tt.wantOK)
			}
		})
	}
}

func TestEncodeDecodeJSON(t *testing.T) {
	okEnv := OK([]int{0, 0, 1})
	data, err := okEnv.EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}

	decoded, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON(%q) error = %v", data, err)
	}
	if decoded.IsErr() {
		t.Fatalf("decoded envelope is err: %q", decoded.Err)
	}
	arr, ok := decoded.OK.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("decoded OK = %#v, want 3-element array", decoded.OK)
	}

	errEnv := Err("unknown id")
	data, err = errEnv.EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}
	decoded, err = DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON(%q) error = %v", data, err)
	}
	if !decoded.IsErr() || decoded.Err != "unknown id" {
		t.Fatalf("decoded envelope = %+v, want err %q", decoded, "unknown id")
	}
}

func TestDecodeJSONMalformed(t *testing.T) {
	for _, data := range []string{``, `[]`, `{`, `{"other":1}`, `{"err":5}`} {
		if _, err := DecodeJSON(data); !errors.Is(err, ErrMalformed) {
			t.Errorf("DecodeJSON(%q) error = %v, want ErrMalformed", data, err)
		}
	}
}

func TestUnwrap(t *testing.T) {
	v, err := OK("x").Unwrap()
	if err != nil || v != "x" {
		t.Errorf("OK.Unwrap() = (%v, %v), want (x, nil)", v, err)
	}

	_, err = Err("boom").Unwrap()
	if err == nil || err.Error() != "boom" {
		t.Errorf("Err.Unwrap() error = %v, want boom", err)
	}
}
