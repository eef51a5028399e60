package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallyunet/ethfill/pkg/metrics"
	"github.com/smallyunet/ethfill/pkg/tx"
	"github.com/smallyunet/ethfill/pkg/types"
)

const cannedOutput = `{
  "alloc": {"0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b": {"nonce": "0x1", "balance": "0x10"}},
  "result": {
    "stateRoot": "0x0000000000000000000000000000000000000000000000000000000000000abc",
    "txRoot": "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
    "receiptsRoot": "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
    "logsHash": "0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347",
    "receipts": [],
    "rejected": [{"index": 0, "error": "nonce too low"}],
    "currentDifficulty": null,
    "gasUsed": "0x5208",
    "currentBaseFee": "0x7"
  }
}`

func testRequest(t *testing.T) *Request {
	signed, err := tx.Default().Sign(tx.TestPrivateKey)
	require.NoError(t, err)
	return &Request{
		Alloc:   types.Alloc{},
		Txs:     []*tx.Transaction{signed},
		Env:     &types.Environment{GasLimit: types.DefaultGasLimit, Number: 1, BaseFee: big.NewInt(7)},
		Fork:    "London",
		ChainID: 1,
		Reward:  big.NewInt(0),
	}
}

func checkCanned(t *testing.T, resp *Response) {
	t.Helper()
	assert.Equal(t, common.HexToHash("0xabc"), resp.Result.StateRoot)
	assert.Equal(t, uint64(21000), uint64(resp.Result.GasUsed))
	assert.Equal(t, map[int]string{0: "nonce too low"}, resp.Result.RejectedByIndex())
	require.Contains(t, resp.Alloc, tx.TestAddress)
	assert.Equal(t, uint64(1), resp.Alloc[tx.TestAddress].NonceValue())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evm")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestProcessEvaluate(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, `cat > "`+dir+`/stdin.json"
echo "$@" > "`+dir+`/args"
cat <<'EOF'
`+cannedOutput+`
EOF
`)
	p := NewProcess(bin, false, 10*time.Second)
	resp, err := p.Evaluate(context.Background(), testRequest(t))
	require.NoError(t, err)
	checkCanned(t, resp)

	args, err := os.ReadFile(filepath.Join(dir, "args"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--state.fork=London")
	assert.Contains(t, string(args), "--state.chainid=1")
	assert.Contains(t, string(args), "--state.reward=0")

	stdin, err := os.ReadFile(filepath.Join(dir, "stdin.json"))
	require.NoError(t, err)
	var in map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(stdin, &in))
	assert.Contains(t, in, "alloc")
	assert.Contains(t, in, "env")
	assert.Contains(t, in, "txsRlp")
}

func TestProcessFailure(t *testing.T) {
	bin := writeScript(t, "echo 'fork not supported' >&2\nexit 3\n")
	_, err := NewProcess(bin, false, 0).Evaluate(context.Background(), testRequest(t))
	var perr *ProcessError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Stderr, "fork not supported")
}

func TestProcessTimeout(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")
	_, err := NewProcess(bin, false, 50*time.Millisecond).Evaluate(context.Background(), testRequest(t))
	assert.Error(t, err)
}

func TestServerEvaluate(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	secretPath := filepath.Join(t.TempDir(), "jwt.hex")
	require.NoError(t, os.WriteFile(secretPath, []byte("0x"+common.Bytes2Hex(secret)+"\n"), 0o600))

	var got serverRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_, err := jwt.Parse(auth, func(*jwt.Token) (interface{}, error) { return secret, nil })
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, cannedOutput)
	}))
	defer srv.Close()

	s, err := NewServer(srv.URL, secretPath, time.Second)
	require.NoError(t, err)
	resp, err := s.Evaluate(context.Background(), testRequest(t))
	require.NoError(t, err)
	checkCanned(t, resp)
	assert.Equal(t, serverState{Fork: "London", ChainID: "1", Reward: "0"}, got.State)

	// A server without the secret is rejected.
	s, err = NewServer(srv.URL, "", time.Second)
	require.NoError(t, err)
	_, err = s.Evaluate(context.Background(), testRequest(t))
	assert.ErrorContains(t, err, "401")
}

func TestParseSecret(t *testing.T) {
	_, err := ParseSecret("zz")
	assert.Error(t, err)
	_, err = ParseSecret("  ")
	assert.Error(t, err)
	secret, err := ParseSecret("0x0102\n")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, secret)
}

func TestParseTrace(t *testing.T) {
	input := `{"pc":0,"op":96,"gas":"0x5f5e100","gasCost":"0x3","memSize":0,"stack":[],"depth":1,"refund":0,"opName":"PUSH1"}
{"pc":2,"op":0,"gas":"0x5f5e0fd","gasCost":"0x0","memSize":0,"stack":["0x1"],"depth":1,"refund":0,"opName":"STOP"}
{"output":"0x","gasUsed":"0x5208"}
`
	trace, err := ParseTrace(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, trace.Lines, 2)
	assert.Equal(t, "PUSH1", trace.Lines[0].OpName)
	assert.Equal(t, uint64(3), uint64(trace.Lines[0].GasCost))
	assert.Equal(t, uint64(21000), trace.GasUsed)
	assert.Empty(t, trace.Error)

	_, err = ParseTrace(strings.NewReader("{not json}\n"))
	assert.Error(t, err)
}

func TestReadTraces(t *testing.T) {
	dir := t.TempDir()
	hash := common.HexToHash("0x01")
	write := func(index string, body string) {
		name := "trace-" + index + "-" + hash.Hex() + ".jsonl"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("1", `{"output":"0x","gasUsed":"0x1","error":"out of gas"}`+"\n")
	write("0", `{"output":"0x","gasUsed":"0x2"}`+"\n")

	traces, err := ReadTraces(dir)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, 0, traces[0].TxIndex)
	assert.Equal(t, hash, traces[0].TxHash)
	assert.Equal(t, "out of gas", traces[1].Error)
}

type failing struct{}

func (failing) Evaluate(context.Context, *Request) (*Response, error) {
	return nil, errors.New("boom")
}

func TestInstrumentedCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(metrics.ExecutorErrors)
	_, err := Instrument(failing{}).Evaluate(context.Background(), testRequest(t))
	assert.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ExecutorErrors))
}
