package schema

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairCatalog() *Catalog {
	return &Catalog{
		Types: map[string][]InterfaceParam{
			"demo_msgs/Pair": {
				{ArgType: "int32", ArgName: "x"},
				{ArgType: "int32", ArgName: "y"},
			},
		},
		Maps: map[string]string{"Pair": "demo_msgs/Pair"},
	}
}

func TestRenderRoundTrip(t *testing.T) {
	cat := pairCatalog()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		iv, ok := ConstructValueTemplate(rng, cat, "demo_msgs/Pair")
		require.True(t, ok)
		GenValue(rng, iv, nil)
		rendered := Render(iv)

		parsed, err := ParseRendered(rendered)
		require.NoError(t, err)
		assert.Equal(t, rendered, RenderParsed(parsed))
	}
}

func TestRenderTopicShape(t *testing.T) {
	cat := pairCatalog()
	rng := rand.New(rand.NewSource(7))
	iv, ok := ConstructValueTemplate(rng, cat, "demo_msgs/Pair")
	require.True(t, ok)
	GenValue(rng, iv, nil)
	rendered := Render(iv)

	parsed, err := ParseRendered(rendered)
	require.NoError(t, err)
	require.True(t, parsed.IsComposite)
	require.Len(t, parsed.Fields, 2)
	assert.Equal(t, "x", parsed.Fields[0].Name)
	assert.Equal(t, "y", parsed.Fields[1].Name)
}
