package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", maskAPIKey("short"))
	assert.Equal(t, "AIza****wxyz", maskAPIKey("AIzaSyD-1234567890abcdefwxyz"))
}
