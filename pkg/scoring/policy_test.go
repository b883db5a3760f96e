package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Valid(t *testing.T) {
	policy := DefaultPolicy()
	require.NoError(t, policy.Validate())
	assert.Equal(t, 100.0, policy.Weights.Sum())
}

func TestPolicyValidate(t *testing.T) {
	t.Run("weights must sum to 100", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.Weights.Geography = 40
		assert.ErrorContains(t, policy.Validate(), "sum to 105.0")
	})

	t.Run("proxy boost buckets are bounded", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.ProxyBoosts = append(policy.ProxyBoosts, ProxyBoostBucket{MaxEmployees: 0, Points: 40})
		assert.ErrorContains(t, policy.Validate(), "proxy boost")
	})

	t.Run("geography floor bounded", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.GeographyFloor = -1
		assert.Error(t, policy.Validate())
	})
}

func TestLoadPolicy(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		policy, err := LoadPolicy("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicy().Weights, policy.Weights)
	})

	t.Run("overlay replaces named knobs only", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"weights:\n  geography: 40\n  size: 25\n  service: 25\n  owner_goals: 10\nregional_credit: 70\n",
		), 0o644))

		policy, err := LoadPolicy(path)
		require.NoError(t, err)
		assert.Equal(t, 40.0, policy.Weights.Geography)
		assert.Equal(t, 70.0, policy.RegionalCredit)
		assert.Equal(t, DefaultPolicy().SizeDecay, policy.SizeDecay, "untouched knobs keep defaults")
	})

	t.Run("invalid overlay rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"weights:\n  geography: 90\n  size: 25\n  service: 25\n  owner_goals: 15\n",
		), 0o644))

		_, err := LoadPolicy(path)
		assert.Error(t, err)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
