package fold

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "manana", String("  Mañana "))
	assert.Equal(t, "si", String("Sí"))
	assert.Equal(t, "despues", String("DESPUÉS"))
}

func TestContainsPhrase(t *testing.T) {
	assert.True(t, ContainsPhrase("Sí, claro!", "si"))
	assert.True(t, ContainsPhrase("mejor ahora no, gracias", "ahora no"))
	assert.True(t, ContainsPhrase("Más tarde", "mas tarde"))
	assert.False(t, ContainsPhrase("mi nombre es Ana", "no"))
	assert.False(t, ContainsPhrase("", "no"))
	assert.False(t, ContainsPhrase("algo", ""))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("Derecho Laboral", "derecho laboral"))
	assert.True(t, Equal("Tránsito", "transito"))
	assert.False(t, Equal("civil", "penal"))
}
