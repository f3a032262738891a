package media

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestLimitWriter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		payload   []byte
		maxBytes  int64
		wantErr   bool
		errTooBig bool
	}{
		{
			name:     "within limit",
			payload:  []byte("hello"),
			maxBytes: 8,
		},
		{
			name:      "over limit",
			payload:   []byte("0123456789"),
			maxBytes:  5,
			wantErr:   true,
			errTooBig: true,
		},
		{
			name:     "exact limit",
			payload:  []byte("12345"),
			maxBytes: 5,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			w := NewLimitWriter(&buf, tt.maxBytes)
			_, err := io.Copy(w, bytes.NewReader(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				if tt.errTooBig && !errors.Is(err, ErrAssetTooLarge) {
					t.Fatalf("expected ErrAssetTooLarge, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if buf.String() != string(tt.payload) || w.Written() != int64(len(tt.payload)) {
				t.Fatalf("unexpected payload: %q", buf.String())
			}
		})
	}
}

func TestLimitWriterDefault(t *testing.T) {
	t.Parallel()

	w := NewLimitWriter(io.Discard, 0)
	if w.N != MaxAssetBytes {
		t.Fatalf("expected default limit, got %d", w.N)
	}
}
