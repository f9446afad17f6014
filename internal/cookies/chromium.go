package cookies

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/sha256"
	"database/sql"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/tnunamak/usagebar/internal/errs"
)

const (
	chromiumSalt   = "saltysalt"
	chromiumKeyLen = 16
	// Chromium's epoch is 1601-01-01; expires_utc is microseconds since then.
	chromiumEpochOffset = 11644473600
	hostDigestLen       = sha256.Size
)

var chromiumIV = bytes.Repeat([]byte{' '}, aes.BlockSize)

// KeyProvider returns the "Safe Storage" password Chromium uses to derive
// its cookie key.
type KeyProvider interface {
	Password(ctx context.Context, b Browser) (string, error)
}

// SafeStorage reads the password from the macOS keychain. Elsewhere it
// returns the fixed password Chromium uses without a keyring.
type SafeStorage struct {
	goos string
	mu   sync.Mutex
	memo map[Browser]string
}

func NewSafeStorage(goos string) *SafeStorage {
	return &SafeStorage{goos: goos, memo: make(map[Browser]string)}
}

var keychainNames = map[Browser][2]string{
	Chrome:   {"Chrome Safe Storage", "Chrome"},
	Brave:    {"Brave Safe Storage", "Brave"},
	Edge:     {"Microsoft Edge Safe Storage", "Microsoft Edge"},
	Arc:      {"Arc Safe Storage", "Arc"},
	Chromium: {"Chromium Safe Storage", "Chromium"},
}

func (s *SafeStorage) Password(ctx context.Context, b Browser) (string, error) {
	if s.goos != "darwin" {
		return "peanuts", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pw, ok := s.memo[b]; ok {
		return pw, nil
	}
	names, ok := keychainNames[b]
	if !ok {
		return "", errs.Newf(errs.KindUnsupported, "keychain", "no safe storage entry for %s", b)
	}
	out, err := exec.CommandContext(ctx, "security", "find-generic-password", "-w", "-s", names[0], "-a", names[1]).Output()
	if err != nil {
		return "", errs.New(errs.KindCookieDBNotReadable, "keychain "+names[0], err)
	}
	pw := strings.TrimSpace(string(out))
	s.memo[b] = pw
	return pw, nil
}

func iterationsFor(goos string) int {
	if goos == "darwin" {
		return 1003
	}
	return 1
}

// DeriveChromiumKey derives the AES-128 key from the safe storage password.
func DeriveChromiumKey(password string, iterations int) []byte {
	return pbkdf2.Key([]byte(password), []byte(chromiumSalt), iterations, chromiumKeyLen, sha1.New)
}

// DecryptChromiumValue decrypts a v10/v11 encrypted_value. hostKey is the
// row's host_key, used to recognize the digest newer versions prepend.
func DecryptChromiumValue(encrypted, key []byte, hostKey string) (string, error) {
	if len(encrypted) < 3 {
		return "", errs.Newf(errs.KindDataCorrupted, "decrypt cookie", "value too short")
	}
	prefix := string(encrypted[:3])
	if prefix != "v10" && prefix != "v11" {
		return "", errs.Newf(errs.KindDataCorrupted, "decrypt cookie", "unknown prefix %q", prefix)
	}
	ct := encrypted[3:]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", errs.Newf(errs.KindDataCorrupted, "decrypt cookie", "ciphertext length %d", len(ct))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errs.New(errs.KindDataCorrupted, "decrypt cookie", err)
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, chromiumIV).CryptBlocks(plain, ct)

	plain, err = unpadPKCS7(plain)
	if err != nil {
		return "", err
	}
	if len(plain) >= hostDigestLen {
		digest := sha256.Sum256([]byte(hostKey))
		if bytes.Equal(plain[:hostDigestLen], digest[:]) || hasControlBytes(plain[:hostDigestLen]) {
			plain = plain[hostDigestLen:]
		}
	}
	plain = bytes.TrimLeftFunc(plain, func(r rune) bool { return r < 0x20 })
	return string(plain), nil
}

func unpadPKCS7(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errs.Newf(errs.KindDataCorrupted, "decrypt cookie", "bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errs.Newf(errs.KindDataCorrupted, "decrypt cookie", "bad padding")
		}
	}
	return b[:len(b)-n], nil
}

func hasControlBytes(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c == 0x7f {
			return true
		}
	}
	return false
}

func chromiumTime(micros int64) *time.Time {
	if micros <= 0 {
		return nil
	}
	t := time.UnixMicro(micros - chromiumEpochOffset*1_000_000).UTC()
	return &t
}

func (im *Importer) readChromium(ctx context.Context, db *sql.DB, b Browser, domains []string) ([]Record, error) {
	where, args := hostFilter("host_key", domains)
	rows, err := db.QueryContext(ctx, `SELECT host_key, name, path, value, encrypted_value, expires_utc, is_secure, is_httponly
		FROM cookies WHERE `+where, args...)
	if err != nil {
		return nil, errs.New(errs.KindCookieDBNotReadable, "query cookies", err)
	}
	defer rows.Close()

	var key []byte
	var out []Record
	for rows.Next() {
		var (
			host, name, path, value string
			enc                     []byte
			expires                 int64
			secure, httpOnly        bool
		)
		if err := rows.Scan(&host, &name, &path, &value, &enc, &expires, &secure, &httpOnly); err != nil {
			return nil, errs.New(errs.KindDataCorrupted, "scan cookie", err)
		}
		if value == "" && len(enc) > 0 {
			if key == nil {
				pw, err := im.Keys.Password(ctx, b)
				if err != nil {
					return nil, err
				}
				key = DeriveChromiumKey(pw, iterationsFor(im.GOOS))
			}
			value, err = DecryptChromiumValue(enc, key, host)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, Record{
			Host:     normalizeDomain(host),
			Name:     name,
			Path:     path,
			Value:    value,
			Expires:  chromiumTime(expires),
			Secure:   secure,
			HTTPOnly: httpOnly,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindDataCorrupted, "read cookies", err)
	}
	return out, nil
}
