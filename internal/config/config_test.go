package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testManifest = `
abis:
  ERC20: ./abi/erc20.json
dataSources:
  - name: transfers
    address: "0xAAAA00000000000000000000000000000000AAAA"
    startBlock: "100"
    abi: ERC20
    eventHandlers:
      - event: "Transfer(address,address,uint256)"
        handler: handleTransfer
`

func TestLoadManifestDecodesDataSources(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o600))

	manifest, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, manifest.DataSources, 1)
	require.Equal(t, "transfers", manifest.DataSources[0].Name)
	require.Equal(t, "./abi/erc20.json", manifest.ABIPaths["ERC20"])
}

func TestLoadManifestRejectsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataSources: []\n"), 0o600))

	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestLoadManifestMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadManifest("/nonexistent/manifest.yaml")
	require.Error(t, err)
}
