// Package flows terminates Meta's end-to-end encrypted WhatsApp Flow
// exchanges: RSA-OAEP key unwrap, AES-GCM payload decryption with an IV
// bit-flip fallback, per-screen dispatch, and response encryption with the
// flipped IV.
package flows

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/emeka-okafor/kudipal/utils"
)

// EncryptedRequest is the JSON body Meta posts to the Flow endpoint.
type EncryptedRequest struct {
	EncryptedFlowData string `json:"encrypted_flow_data"`
	EncryptedAESKey   string `json:"encrypted_aes_key"`
	InitialVector     string `json:"initial_vector"`
}

// decryptedExchange is a decrypted request plus the material needed to
// encrypt the reply.
type decryptedExchange struct {
	payload   []byte
	aesKey    []byte
	requestIV []byte
	// flippedIV records whether decryption only succeeded after flipping
	// the IV. Meta is inconsistent across flow versions; responses are
	// always encrypted with the flipped request IV either way.
	flippedIV bool
}

// LoadPrivateKey normalizes and parses the configured Flow private key. The
// value may be a PEM with literal "\n" escapes (as pasted into an env var),
// a base64-encoded DER PKCS#8 key, or an encrypted PEM guarded by the
// passphrase.
func LoadPrivateKey(raw, passphrase string) (*rsa.PrivateKey, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(raw), `\n`, "\n")
	if normalized == "" {
		return nil, utils.E(utils.KindFlowDecryptFailed, "flow private key is empty", nil)
	}

	if !strings.Contains(normalized, "BEGIN") {
		der, err := base64.StdEncoding.DecodeString(normalized)
		if err != nil {
			return nil, utils.E(utils.KindFlowDecryptFailed, "flow private key is neither PEM nor base64 DER", err)
		}
		return parseDER(der)
	}

	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, utils.E(utils.KindFlowDecryptFailed, "failed to decode flow private key PEM", nil)
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		decrypted, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, utils.E(utils.KindFlowDecryptFailed, "failed to decrypt flow private key", err)
		}
		der = decrypted
	}
	return parseDER(der)
}

func parseDER(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, utils.E(utils.KindFlowDecryptFailed, "flow private key is not RSA", nil)
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, utils.E(utils.KindFlowDecryptFailed, "failed to parse flow private key", err)
	}
	return key, nil
}

// decryptRequest unwraps the AES key with RSA-OAEP (SHA-256) and opens the
// GCM payload. The AES key length selects AES-128/192/256. Decryption is
// attempted with the given IV first, then with every byte XOR 0xFF.
func decryptRequest(priv *rsa.PrivateKey, req EncryptedRequest) (*decryptedExchange, error) {
	flowData, err := base64.StdEncoding.DecodeString(req.EncryptedFlowData)
	if err != nil {
		return nil, utils.E(utils.KindFlowDecryptFailed, "invalid encrypted_flow_data encoding", err)
	}
	wrappedKey, err := base64.StdEncoding.DecodeString(req.EncryptedAESKey)
	if err != nil {
		return nil, utils.E(utils.KindFlowDecryptFailed, "invalid encrypted_aes_key encoding", err)
	}
	iv, err := base64.StdEncoding.DecodeString(req.InitialVector)
	if err != nil {
		return nil, utils.E(utils.KindFlowDecryptFailed, "invalid initial_vector encoding", err)
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrappedKey, nil)
	if err != nil {
		return nil, utils.E(utils.KindFlowDecryptFailed, "failed to unwrap AES key", err)
	}
	switch len(aesKey) {
	case 16, 24, 32:
	default:
		return nil, utils.E(utils.KindFlowDecryptFailed,
			fmt.Sprintf("unexpected AES key length %d", len(aesKey)), nil)
	}

	gcm, err := newGCM(aesKey, len(iv))
	if err != nil {
		return nil, err
	}

	payload, err := gcm.Open(nil, iv, flowData, nil)
	if err == nil {
		return &decryptedExchange{payload: payload, aesKey: aesKey, requestIV: iv}, nil
	}

	// Some flow versions arrive with the IV already flipped; try the
	// complement before giving up.
	payload, flipErr := gcm.Open(nil, flipIV(iv), flowData, nil)
	if flipErr != nil {
		return nil, utils.E(utils.KindFlowDecryptFailed, "failed to decrypt flow payload", err)
	}
	return &decryptedExchange{payload: payload, aesKey: aesKey, requestIV: iv, flippedIV: true}, nil
}

// encryptResponse serializes v and seals it with the request's AES key and
// the bit-flipped request IV, returning the base64 body Meta expects.
func encryptResponse(v interface{}, aesKey, requestIV []byte) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", utils.InternalError("failed to encode flow response", err)
	}
	gcm, err := newGCM(aesKey, len(requestIV))
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, flipIV(requestIV), plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func newGCM(aesKey []byte, ivLen int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, utils.E(utils.KindFlowDecryptFailed, "failed to initialize cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, utils.E(utils.KindFlowDecryptFailed, "failed to initialize GCM", err)
	}
	return gcm, nil
}

// flipIV XORs every byte with 0xFF.
func flipIV(iv []byte) []byte {
	flipped := make([]byte, len(iv))
	for i, b := range iv {
		flipped[i] = b ^ 0xFF
	}
	return flipped
}
