package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   error
	}{
		{"python syntax", "  File \"scene.py\", line 4\nSyntaxError: invalid syntax", ErrCompileFailure},
		{"indentation", "IndentationError: unexpected indent", ErrCompileFailure},
		{"undefined name", "NameError: name 'ShowCreation' is not defined", ErrCompileFailure},
		{"missing import", "ImportError: cannot import name 'Axes3D'", ErrCompileFailure},
		{"latex", "LaTeX Error: Missing $ inserted", ErrCompileFailure},
		{"segfault", "Segmentation fault (core dumped)", ErrRuntimeFailure},
		{"empty", "", ErrRuntimeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyFailure(tt.stderr), tt.want)
		})
	}
}
