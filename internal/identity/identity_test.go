package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artatlas/venue-crawler/internal/hash/sha256"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "nina de boer", Normalize("  Nina   DE  Boer "))
	require.Equal(t, "", Normalize("   "))
}

func TestPersonKeyDeterministic(t *testing.T) {
	t.Parallel()

	a, err := PersonKey("Nina de Boer", "https://ninadeboer.example/work")
	require.NoError(t, err)
	b, err := PersonKey("  nina  DE boer ", "HTTPS://NINADEBOER.EXAMPLE/other-path")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, sha256.ShortLen)
}

func TestPersonKeyWebsiteScopes(t *testing.T) {
	t.Parallel()

	withSite, err := PersonKey("Jan Visser", "https://janvisser.example")
	require.NoError(t, err)
	withoutSite, err := PersonKey("Jan Visser", "")
	require.NoError(t, err)
	require.NotEqual(t, withSite, withoutSite)
}

func TestPersonKeyEmptyName(t *testing.T) {
	t.Parallel()

	_, err := PersonKey("   ", "https://example.com")
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestEventKeyDeterministicAndScoped(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

	a, err := EventKey("src-1", "Spring Opening", start)
	require.NoError(t, err)
	b, err := EventKey("src-1", "  spring   OPENING ", start.In(time.FixedZone("CET", 3600)))
	require.NoError(t, err)
	require.Equal(t, a, b, "case, whitespace and zone must not change identity")

	other, err := EventKey("src-2", "Spring Opening", start)
	require.NoError(t, err)
	require.NotEqual(t, a, other, "identity is scoped per source entity")

	shifted, err := EventKey("src-1", "Spring Opening", start.Add(time.Hour))
	require.NoError(t, err)
	require.NotEqual(t, a, shifted)
}

func TestEventKeyValidation(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := EventKey("", "Title", start)
	require.ErrorIs(t, err, ErrEmptySourceID)
	_, err = EventKey("src-1", "  ", start)
	require.ErrorIs(t, err, ErrEmptyTitle)
}

func TestEntityKey(t *testing.T) {
	t.Parallel()

	a, err := EntityKey("https://venue.example")
	require.NoError(t, err)
	b, err := EntityKey("https://venue.example")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, sha256.ShortLen)

	_, err = EntityKey("  ")
	require.Error(t, err)
}
