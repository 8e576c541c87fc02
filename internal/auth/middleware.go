package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
type SignedRequest struct {
	Action     string          `json:"action"`
	ExpiresAt  int64           `json:"expires_at"`
	Nonce      string          `json:"nonce"`
	Payload    json.RawMessage `json:"payload"`
	ResourceID string          `json:"resource_id"`
}

const (
	maxFutureWindow = 5 * time.Minute
	nonceKeyPrefix  = "invoice:nonce:"

	// WalletKey holds the verified common.Address in the gin context.
	WalletKey = "wallet_address"
)

// Binding ties a signature to one route: the signed action must equal
// Action, and the signed resource_id must equal the ResourceParam path
// parameter (compared case-insensitively, hashes being hex).
type Binding struct {
	Action        string
	ResourceParam string
}

// Middleware returns a Gin handler that validates EIP-191 wallet signatures
// and burns each nonce once.
func Middleware(rdb *redis.Client, b Binding, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		signedMsgB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		if req.Action != b.Action {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signed action does not match"})
			return
		}
		if b.ResourceParam != "" && !strings.EqualFold(req.ResourceID, c.Param(b.ResourceParam)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signed resource does not match"})
			return
		}

		sig, err := ParseSignature(sigHex)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}
		wallet, err := VerifyWallet(msgBytes, sig, walletAddr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		// Nonce dedup via Redis SET NX, kept until the request would expire anyway.
		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(c.Request.Context(), nonceKeyPrefix+req.Nonce, 1, ttl).Result()
		if err != nil {
			log.Error("nonce store failed", zap.String("wallet", wallet.Hex()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !set {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(WalletKey, wallet)
		c.Next()
	}
}

// Wallet returns the address verified by Middleware.
func Wallet(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(WalletKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}
