package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 注册与查询 ---

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := newFakeProvider("gemini")
	r.Register("gemini", p)

	got, ok := r.Get("gemini")
	require.True(t, ok)
	assert.Equal(t, "gemini", got.Name())
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryReplaceKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Register("a", newFakeProvider("a"))
	r.Register("b", newFakeProvider("b"))
	r.Register("a", newFakeProvider("a2"))

	assert.Equal(t, 0, r.Position("a"))
	assert.Equal(t, 1, r.Position("b"))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a2", got.Name())
}

// --- 顺序 ---

func TestRegistryOrderedPreservesRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register("qwen", newFakeProvider("qwen"))
	r.Register("gemini", newFakeProvider("gemini"))
	r.Register("deepseek", newFakeProvider("deepseek"))

	ordered := r.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, "qwen", ordered[0].Name())
	assert.Equal(t, "gemini", ordered[1].Name())
	assert.Equal(t, "deepseek", ordered[2].Name())

	// List 按字母序
	assert.Equal(t, []string{"deepseek", "gemini", "qwen"}, r.List())
}

func TestRegistryPositionUnknown(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, -1, r.Position("nope"))
}

// --- 默认适配器 ---

func TestRegistryDefault(t *testing.T) {
	r := NewRegistry()

	_, err := r.Default()
	assert.Error(t, err)

	err = r.SetDefault("gemini")
	assert.Error(t, err)

	r.Register("gemini", newFakeProvider("gemini"))
	require.NoError(t, r.SetDefault("gemini"))

	p, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
}

// --- 注销 ---

func TestRegistryUnregisterClearsDefaultAndOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("a", newFakeProvider("a"))
	r.Register("b", newFakeProvider("b"))
	require.NoError(t, r.SetDefault("a"))

	r.Unregister("a")

	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Position("b"))
	_, err := r.Default()
	assert.Error(t, err)

	ordered := r.Ordered()
	require.Len(t, ordered, 1)
	assert.Equal(t, "b", ordered[0].Name())
}
