package api

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"token-collector/internal/validation"
)

const (
	HeaderAddress   = "X-Collector-Address"
	HeaderSignature = "X-Collector-Signature"

	callerKey    = "collector.caller"
	maxBodyBytes = 1 << 20
)

var (
	ErrMissingSignature = errors.New("missing signature headers")
	ErrBadSignature     = errors.New("signature does not match address")
	ErrStaleRequest     = errors.New("request issued_at outside the accepted window")
	ErrInvalidNonce     = errors.New("request nonce must be a UUID")
	ErrReplayedRequest  = errors.New("request nonce already used")
)

// SigningMessage is the text a caller signs with personal_sign (EIP-191):
// the method, the path and the raw body.
func SigningMessage(method, path string, body []byte) []byte {
	return []byte(fmt.Sprintf("%s %s\n%s", method, path, body))
}

// Sign produces the X-Collector-Signature value for a request
func Sign(key *ecdsa.PrivateKey, method, path string, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(SigningMessage(method, path, body)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// recoverSigner returns the address that produced sig over the request
func recoverSigner(method, path string, body []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(SigningMessage(method, path, body)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// nonceCache remembers (signer, nonce) pairs for as long as a request carrying
// them could still pass the issued_at window.
type nonceCache struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func newNonceCache(ttl time.Duration) *nonceCache {
	// issued_at may sit ttl in the future, so a nonce stays live for 2*ttl
	return &nonceCache{seen: expirable.NewLRU[string, struct{}](0, nil, 2*ttl)}
}

// claim records the nonce and reports false when signer already used it
func (n *nonceCache) claim(signer common.Address, nonce uuid.UUID) bool {
	key := signer.Hex() + "/" + nonce.String()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen.Contains(key) {
		return false
	}
	n.seen.Add(key, struct{}{})
	return true
}

// SignatureAuth authenticates callers by an Ethereum signature over the request.
// Every signed body carries a single-use nonce, so a captured request cannot be
// sent again.
type SignatureAuth struct {
	ttl    time.Duration
	now    func() time.Time
	nonces *nonceCache
}

func NewSignatureAuth(ttl time.Duration) *SignatureAuth {
	return &SignatureAuth{ttl: ttl, now: time.Now, nonces: newNonceCache(ttl)}
}

func (a *SignatureAuth) RequireSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		addrHeader := c.GetHeader(HeaderAddress)
		sigHeader := c.GetHeader(HeaderSignature)
		if addrHeader == "" || sigHeader == "" {
			RespondError(c, http.StatusUnauthorized, "unauthorized", ErrMissingSignature)
			return
		}

		claimed, err := validation.ParseAddress(addrHeader)
		if err != nil {
			RespondError(c, http.StatusUnauthorized, "unauthorized", err)
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		signer, err := recoverSigner(c.Request.Method, c.Request.URL.Path, body, sigHeader)
		if err != nil {
			RespondError(c, http.StatusUnauthorized, "unauthorized", err)
			return
		}
		if signer != claimed {
			RespondError(c, http.StatusUnauthorized, "unauthorized", ErrBadSignature)
			return
		}

		var envelope struct {
			IssuedAt int64  `json:"issued_at"`
			Nonce    string `json:"nonce"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		issued := time.Unix(envelope.IssuedAt, 0)
		if age := a.now().Sub(issued); age > a.ttl || age < -a.ttl {
			RespondError(c, http.StatusUnauthorized, "unauthorized", ErrStaleRequest)
			return
		}

		nonce, err := uuid.Parse(envelope.Nonce)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", ErrInvalidNonce)
			return
		}
		if !a.nonces.claim(signer, nonce) {
			RespondError(c, http.StatusUnauthorized, "replayed_request", ErrReplayedRequest)
			return
		}

		c.Set(callerKey, signer)
		c.Next()
	}
}

// CallerFrom returns the authenticated caller
func CallerFrom(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}
