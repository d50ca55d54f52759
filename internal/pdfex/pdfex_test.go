package pdfex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageCount(t *testing.T) {
	out := []byte(`Title:          On the Distribution of Primes
Author:
Pages:          7
Encrypted:      no
File size:      182223 bytes`)

	n, err := parsePageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestParsePageCountMissing(t *testing.T) {
	_, err := parsePageCount([]byte("Title: whatever\n"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestParsePageCountMalformed(t *testing.T) {
	_, err := parsePageCount([]byte("Pages:          seven\n"))
	assert.ErrorIs(t, err, ErrUnreadable)
}
