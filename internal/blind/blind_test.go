package blind

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

func TestAssignIsStablePerSecret(t *testing.T) {
	secret := []byte("study-secret")
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("article-%d-p1-01", i)
		assert.Equal(t, Assign(secret, id), Assign(secret, id))
	}
}

func TestAssignIsBalanced(t *testing.T) {
	secret := []byte("study-secret")
	const n = 2000
	with := 0
	for i := 0; i < n; i++ {
		if Assign(secret, fmt.Sprintf("img-%04d", i)).AMode == domain.WithContext {
			with++
		}
	}
	// Binomial(2000, 0.5) has sd ~22; 0.45..0.55 is > 4 sd.
	assert.InDelta(t, 0.5, float64(with)/n, 0.05)
}

func TestAssignDependsOnSecret(t *testing.T) {
	diff := 0
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("img-%d", i)
		if Assign([]byte("one"), id).AMode != Assign([]byte("two"), id).AMode {
			diff++
		}
	}
	assert.Greater(t, diff, 50)
}

func TestTexts(t *testing.T) {
	a, b := Texts(domain.Assignment{AMode: domain.WithContext}, "with", "without")
	assert.Equal(t, "with", a)
	assert.Equal(t, "without", b)
	a, b = Texts(domain.Assignment{AMode: domain.WithoutContext}, "with", "without")
	assert.Equal(t, "without", a)
	assert.Equal(t, "with", b)
}

func TestOrderIsDeterministicPermutation(t *testing.T) {
	var ids []string
	for i := 0; i < 30; i++ {
		ids = append(ids, fmt.Sprintf("img-%02d", i))
	}
	got := Order([]byte("k"), ids)
	assert.Equal(t, got, Order([]byte("k"), ids))
	assert.ElementsMatch(t, ids, got)
	assert.NotEqual(t, ids, got)
	assert.Equal(t, "img-00", ids[0], "input untouched")
}

func TestLoadOrCreateSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", ".blinding-key")
	first, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Len(t, first, secretBytes)

	second, err := LoadOrCreateSecret(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	require.NoError(t, os.WriteFile(path, []byte("zz"), 0o600))
	_, err = LoadOrCreateSecret(path)
	assert.Error(t, err)
}
