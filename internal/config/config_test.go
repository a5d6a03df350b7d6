package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flujos-esign/internal/domain/entity"
)

const sampleYAML = `
app:
  name: flujos-esign
  env: production
content_store:
  url: https://alfresco.example.com/
  user: svc-sign
  pass: secret
signature:
  location: Madrid
workflow:
  root_folder: /Sites/Flujos/
`

func newViper(t *testing.T, body string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	require.NoError(t, v.ReadConfig(strings.NewReader(body)))
	return v
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := load(newViper(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://alfresco.example.com", cfg.ContentStore.URL)
	assert.Equal(t, "-root-", cfg.ContentStore.RootID)
	assert.Equal(t, 30*time.Second, cfg.ContentStore.Timeout)
	assert.Equal(t, entity.PositionRight, cfg.Signature.DefaultPosition)
	assert.False(t, cfg.Signature.DefaultOpaqueBackground)
	assert.False(t, cfg.Signature.DefaultAllPages)
	assert.Equal(t, 205, cfg.Signature.MaxImageWidth)
	assert.Equal(t, 7*24*time.Hour, cfg.RecipientActivityTTL())
	assert.Equal(t, 24*time.Hour, cfg.DedupWindow())
	assert.Equal(t, []string{"Sites", "Flujos"}, cfg.FolderSegments())
	assert.True(t, cfg.IsProduction())
}

func TestLoad_RequiresContentStore(t *testing.T) {
	_, err := load(newViper(t, "app:\n  name: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_store.url")

	_, err = load(newViper(t, "content_store:\n  url: http://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_store.user")
}

func TestLoad_RejectsUnknownPosition(t *testing.T) {
	body := strings.Replace(sampleYAML, "signature:\n  location: Madrid\n", "signature:\n  location: Madrid\n  default_position: middle\n", 1)
	_, err := load(newViper(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_position")
}
