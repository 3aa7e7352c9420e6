package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"
)

// Verification errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserLocked         = errors.New("user is locked")
	ErrUnsupportedHash    = errors.New("unsupported password hash")
	ErrBackend            = errors.New("auth backend error")
)

// SuFunc checks a password by other means. It reports whether the password
// is correct.
type SuFunc func(ctx context.Context, user, password string) (bool, error)

// Verifier checks passwords against a shadow file.
type Verifier struct {
	// ShadowPath defaults to DefaultShadowPath.
	ShadowPath string

	// Fallback is used when the shadow file cannot be read or the hash
	// format is not supported. Defaults to VerifyWithSu; set NoFallback to
	// disable it.
	Fallback   SuFunc
	NoFallback bool
}

// Verify checks password for user. It returns nil on success,
// ErrInvalidCredentials or ErrUserLocked on a definite rejection, and an
// error wrapping ErrBackend when the check could not be made.
func (v *Verifier) Verify(ctx context.Context, user, password string) error {
	if strings.TrimSpace(user) == "" {
		return ErrInvalidCredentials
	}
	path := v.ShadowPath
	if path == "" {
		path = DefaultShadowPath
	}

	sh, err := LoadShadow(path)
	if err != nil {
		// Normal once privileges are dropped: only su can read it then.
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return v.fallback(ctx, user, password, err)
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	entry := sh.Find(user)
	if entry == nil {
		return ErrInvalidCredentials
	}
	if entry.Locked() {
		return ErrUserLocked
	}
	ok, err := verifyCrypt(entry.Hash, password)
	if errors.Is(err, ErrUnsupportedHash) {
		return v.fallback(ctx, user, password, err)
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

func (v *Verifier) fallback(ctx context.Context, user, password string, cause error) error {
	if v.NoFallback {
		return fmt.Errorf("%w: %v", ErrBackend, cause)
	}
	su := v.Fallback
	if su == nil {
		su = VerifyWithSu
	}
	ok, err := su(ctx, user, password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

// crypters support $1$ (md5-crypt), $5$ (sha256-crypt) and $6$
// (sha512-crypt).
var crypters = []crypt.Crypter{
	sha512_crypt.New(),
	sha256_crypt.New(),
	md5_crypt.New(),
}

// unsupportedPrefixes are hashes that need the fallback: yescrypt, scrypt
// and bcrypt.
var unsupportedPrefixes = []string{"$y$", "$7$", "$2"}

func verifyCrypt(hash, password string) (bool, error) {
	for _, c := range crypters {
		if err := c.Verify(hash, []byte(password)); err == nil {
			return true, nil
		}
	}
	for _, p := range unsupportedPrefixes {
		if strings.HasPrefix(hash, p) {
			return false, ErrUnsupportedHash
		}
	}
	return false, nil
}
