package model_test

import (
	"strings"
	"testing"

	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCotonomaNameRejectsBlankAndOversize(t *testing.T) {
	require.Error(t, model.ValidateCotonomaName("   "))
	require.Error(t, model.ValidateCotonomaName(strings.Repeat("a", 51)))
	require.NoError(t, model.ValidateCotonomaName(strings.Repeat("a", 50)))
}

func TestValidateURLPrefixRejectsNonHTTP(t *testing.T) {
	require.Error(t, model.ValidateURLPrefix("ftp://example.com"))
	require.Error(t, model.ValidateURLPrefix("not a url"))
	require.Error(t, model.ValidateURLPrefix("https://example.com/path?x=1"))
	require.NoError(t, model.ValidateURLPrefix("https://example.com/cotoami"))
}

func TestValidateCotoContentRequiresSomething(t *testing.T) {
	err := model.ValidateCotoContent(nil, nil, false)
	require.Error(t, err)

	content := "hello"
	require.NoError(t, model.ValidateCotoContent(&content, nil, false))
	require.NoError(t, model.ValidateCotoContent(nil, nil, true))
}

func TestPromoteSummaryTruncatesAndTrims(t *testing.T) {
	long := strings.Repeat("x", 60)
	got := model.PromoteSummary("  " + long + "  ")
	assert.Len(t, []rune(got), model.MaxCotonomaNameLength)
}

func TestValidateGeolocationBounds(t *testing.T) {
	require.NoError(t, model.ValidateGeolocation(model.Geolocation{Longitude: 139.7, Latitude: 35.6}))
	require.Error(t, model.ValidateGeolocation(model.Geolocation{Longitude: 200, Latitude: 0}))
	require.Error(t, model.ValidateGeolocation(model.Geolocation{Longitude: 0, Latitude: -95}))
}
