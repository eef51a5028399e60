package executor

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/golang-jwt/jwt/v4"
)

// Server evaluates blocks against a long-running transition tool reachable
// over HTTP. When a secret is configured every request carries an HS256 JWT.
type Server struct {
	url    string
	client *http.Client
	secret []byte
	log    log.Logger
}

// NewServer returns an executor posting to url. secretPath, if non-empty,
// names a file holding a hex-encoded JWT secret.
func NewServer(url, secretPath string, timeout time.Duration) (*Server, error) {
	if url == "" {
		return nil, fmt.Errorf("executor server url cannot be empty")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log.New("component", "executor", "server", url),
	}
	if secretPath != "" {
		raw, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("read jwt secret: %w", err)
		}
		if s.secret, err = ParseSecret(string(raw)); err != nil {
			return nil, err
		}
		s.log.Debug("Loaded JWT secret", "path", secretPath)
	}
	return s, nil
}

// ParseSecret decodes a hex JWT secret as written to a jwtsecret file.
func ParseSecret(content string) ([]byte, error) {
	secret, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(content), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid jwt secret hex: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty jwt secret")
	}
	return secret, nil
}

// Token returns a short-lived HS256 token signed with secret.
func Token(secret []byte) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(60 * time.Second)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

type serverState struct {
	Fork    string `json:"fork"`
	ChainID string `json:"chainid"`
	Reward  string `json:"reward"`
}

type serverRequest struct {
	State serverState `json:"state"`
	Input *input      `json:"input"`
	Trace bool        `json:"trace"`
}

// Evaluate implements Executor.
func (s *Server) Evaluate(ctx context.Context, req *Request) (*Response, error) {
	in, err := newInput(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(&serverRequest{
		State: serverState{
			Fork:    req.Fork,
			ChainID: strconv.FormatUint(req.ChainID, 10),
			Reward:  reward(req),
		},
		Input: in,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.secret != nil {
		token, err := Token(s.secret)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("t8n server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out output
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Result == nil {
		return nil, fmt.Errorf("t8n server response has no result")
	}
	s.log.Trace("Evaluated block", "fork", req.Fork, "number", req.Env.Number)
	return &Response{Alloc: out.Alloc, Result: out.Result}, nil
}
