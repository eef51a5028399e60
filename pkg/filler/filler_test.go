package filler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallyunet/ethfill/pkg/blockchain"
	"github.com/smallyunet/ethfill/pkg/config"
	"github.com/smallyunet/ethfill/pkg/engine"
	"github.com/smallyunet/ethfill/pkg/executor/executortest"
	"github.com/smallyunet/ethfill/pkg/forks"
	"github.com/smallyunet/ethfill/pkg/tx"
)

const yamlTests = `
transfer:
  pre:
    "0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b":
      nonce: 0
      balance: 1000000000000000000
  blocks:
    - txs:
        - value: 1
          gas: 0x5208
    - rlp: 0xc0
      exception: empty block
    - rlpModifier:
        gasUsed: 1
      exception: bad gas used
      engineApiErrorCode: -32602
  post:
    "0x00000000000000000000000000000000000000aa":
      balance: 1
broken:
  pre:
    "0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b":
      balance: 1000000000000000000
  blocks:
    - txs:
        - nonce: 5
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	tests, err := LoadFile(writeFile(t, "tests.yaml", yamlTests))
	require.NoError(t, err)
	require.Len(t, tests, 2)

	transfer := tests["transfer"]
	assert.Equal(t, "transfer", transfer.Tag)
	require.Len(t, transfer.Blocks, 3)
	require.Len(t, transfer.Blocks[0].Txs, 1)
	assert.Equal(t, uint64(21000), transfer.Blocks[0].Txs[0].Gas)
	assert.Equal(t, uint64(1), transfer.Blocks[0].Txs[0].Value.Uint64())
	assert.Equal(t, []byte{0xc0}, []byte(transfer.Blocks[1].RLP))
	require.NotNil(t, transfer.Blocks[2].EngineErrorCode)
	assert.Equal(t, engine.InvalidParams, *transfer.Blocks[2].EngineErrorCode)
	assert.Equal(t, uint64(1), *transfer.Blocks[2].Modifier.GasUsed)
	assert.Equal(t, uint64(1), transfer.Post[tx.AddrAA].Balance.Uint64())
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "tests.json", `{"empty": {"blocks": [{}]}}`)
	tests, err := LoadFile(path)
	require.NoError(t, err)
	require.Contains(t, tests, "empty")
	assert.Len(t, tests["empty"].Blocks, 1)

	_, err = LoadFile(writeFile(t, "null.json", `{"x": null}`))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestJobs(t *testing.T) {
	tests, err := LoadFile(writeFile(t, "tests.yml", yamlTests))
	require.NoError(t, err)
	networks := forks.Range(forks.Shanghai, forks.Cancun)
	jobs := Jobs(tests, networks)
	require.Len(t, jobs, 2)
	assert.Equal(t, "broken", jobs[0].Name)
	assert.Equal(t, "transfer", jobs[1].Name)
	assert.Equal(t, networks, jobs[1].Networks)
}

func TestRunIsolatesFailures(t *testing.T) {
	tests, err := LoadFile(writeFile(t, "tests.yaml", yamlTests))
	require.NoError(t, err)
	networks := []forks.Network{forks.Fixed(forks.London), forks.Fixed(forks.Cancun)}

	runner := NewRunner(blockchain.NewFiller(new(executortest.Fake)),
		[]string{config.FormatBlockchain, config.FormatBlockchainEngine}, 3)
	report, err := runner.Run(context.Background(), Jobs(tests, networks))
	require.NoError(t, err)

	// broken fails once per network in the formats its fork supports.
	require.Len(t, report.Failures, 3)
	for _, f := range report.Failures {
		assert.Equal(t, "broken", f.Job)
		var cerr *blockchain.CorrectnessError
		assert.ErrorAs(t, f, &cerr)
	}
	assert.Error(t, report.Err())

	// transfer: two block lists and one engine fixture; London has no engine
	// shape for either test.
	assert.Equal(t, 3, report.Filled)
	assert.Equal(t, 2, report.Skipped)

	dir := t.TempDir()
	paths, err := Write(dir, report, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, config.FormatBlockchain, "transfer.json"),
		filepath.Join(dir, config.FormatBlockchainEngine, "transfer.json"),
	}, paths)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var fixtures map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fixtures))
	assert.Contains(t, fixtures, FixtureName("transfer", forks.Fixed(forks.Cancun), config.FormatBlockchain))
	assert.Contains(t, fixtures, FixtureName("transfer", forks.Fixed(forks.London), config.FormatBlockchain))

	matches, err := filepath.Glob(filepath.Join(dir, "*", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestWriteSingleFixturePerFile(t *testing.T) {
	tests, err := LoadFile(writeFile(t, "tests.yaml", yamlTests))
	require.NoError(t, err)
	delete(tests, "broken")

	runner := NewRunner(blockchain.NewFiller(new(executortest.Fake)), []string{config.FormatBlockchain}, 1)
	report, err := runner.Run(context.Background(), Jobs(tests, []forks.Network{forks.Fixed(forks.Shanghai)}))
	require.NoError(t, err)
	require.NoError(t, report.Err())

	dir := t.TempDir()
	paths, err := Write(dir, report, true)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(dir, config.FormatBlockchain, "transfer"), filepath.Dir(paths[0]))
}

func TestRunCancelled(t *testing.T) {
	tests, err := LoadFile(writeFile(t, "tests.yaml", yamlTests))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(blockchain.NewFiller(new(executortest.Fake)), []string{config.FormatBlockchain}, 2)
	_, err = runner.Run(ctx, Jobs(tests, forks.Networks()))
	assert.ErrorIs(t, err, context.Canceled)
}
