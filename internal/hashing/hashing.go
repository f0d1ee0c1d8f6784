// Package hashing derives keyed, non-reversible identifiers and verifies
// one-time secrets. Every derivation is domain-separated by a label so a
// value computed for one purpose never collides with another.
package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"studio-assistant/internal/domain"
)

const (
	labelConversation = "conversation"
	labelPhone        = "phone"
	labelOTP          = "otp"
	labelLink         = "link"
	labelKey          = "key"

	otpLength       = 6
	linkNonceLength = 6
	linkSigLength   = 6
	otpAlphabet     = "0123456789"
	linkAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Hasher computes HMAC-SHA256 derivations with a per-deployment salt.
type Hasher struct {
	salt []byte
}

// New returns a Hasher. The salt is a secret and must be at least 16 bytes.
func New(salt string) (*Hasher, error) {
	salt = strings.TrimSpace(salt)
	if len(salt) < 16 {
		return nil, errors.New("hashing: salt must be at least 16 bytes")
	}
	return &Hasher{salt: []byte(salt)}, nil
}

func (h *Hasher) sum(label string, parts ...string) []byte {
	mac := hmac.New(sha256.New, h.salt)
	mac.Write([]byte(label))
	for _, p := range parts {
		// Length-prefix every part so ("ab","c") and ("a","bc") differ.
		fmt.Fprintf(mac, "|%d:%s", len(p), p)
	}
	return mac.Sum(nil)
}

// ConversationID derives the persisted conversation key from the tenant,
// channel and raw channel user id.
func (h *Hasher) ConversationID(tenantID string, channel domain.Channel, userID string) string {
	return hex.EncodeToString(h.sum(labelConversation, tenantID, string(channel), userID))
}

// PhoneKey derives the spam-guard key for a phone number within a tenant.
func (h *Hasher) PhoneKey(tenantID, phone string) string {
	return hex.EncodeToString(h.sum(labelPhone, tenantID, phone))
}

// Key derives an opaque key from arbitrary parts.
func (h *Hasher) Key(parts ...string) string {
	return hex.EncodeToString(h.sum(labelKey, parts...))
}

// HashOTP returns the salted hash stored in place of a one-time code.
func (h *Hasher) HashOTP(conversationID, code string) string {
	return hex.EncodeToString(h.sum(labelOTP, conversationID, NormalizeCode(code)))
}

// VerifyOTP compares the submitted code against the stored hash in constant time.
func (h *Hasher) VerifyOTP(conversationID, code, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	want, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}
	return hmac.Equal(h.sum(labelOTP, conversationID, NormalizeCode(code)), want)
}

// NewOTP returns a random numeric one-time code.
func (h *Hasher) NewOTP() (string, error) {
	return randomString(otpAlphabet, otpLength)
}

// NewLinkCode returns a random linking code of the form NONCE-SIGNATURE.
func (h *Hasher) NewLinkCode() (string, error) {
	nonce, err := randomString(linkAlphabet, linkNonceLength)
	if err != nil {
		return "", err
	}
	return nonce + "-" + h.linkSignature(nonce), nil
}

// VerifyLinkCode checks the signature part of a linking code.
func (h *Hasher) VerifyLinkCode(code string) bool {
	nonce, sig, ok := strings.Cut(NormalizeCode(code), "-")
	if !ok || len(nonce) != linkNonceLength || len(sig) != linkSigLength {
		return false
	}
	return hmac.Equal([]byte(h.linkSignature(nonce)), []byte(sig))
}

func (h *Hasher) linkSignature(nonce string) string {
	return strings.ToUpper(hex.EncodeToString(h.sum(labelLink, nonce)))[:linkSigLength]
}

// NormalizeCode strips whitespace and upper-cases a user-typed code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

func randomString(alphabet string, n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("hashing: random: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}
