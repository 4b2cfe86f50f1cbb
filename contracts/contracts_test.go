package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAssetTags(t *testing.T) {
	doc, err := Load("asset-tags")
	require.NoError(t, err)

	for _, path := range []string{
		"/api/v1/settings/asset-tags",
		"/api/v1/settings/asset-tags/next",
		"/api/v1/settings/asset-tags/preview",
		"/api/v1/settings/asset-tags/reserve",
		"/api/v1/settings/asset-tags/{id}",
	} {
		require.NotNil(t, doc.Paths.Find(path), path)
	}
	require.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
}

func TestLoadUnknown(t *testing.T) {
	_, err := Load("devices")
	require.Error(t, err)
	require.Equal(t, []string{"asset-tags"}, Names())
}
