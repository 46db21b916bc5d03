// Package turnrest issues short-lived TURN credentials in the format coturn
// accepts with use-auth-secret (the "TURN REST API" draft):
//
//	username   = <expiry unix seconds>:<prefix>:<subject>
//	credential = base64(HMAC-SHA1(shared secret, username))
//
// Cameras and viewers fetch these from GET /ice before building their peer
// connections, so static TURN passwords never reach browsers.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoSecret      = errors.New("turnrest: shared secret is required")
	ErrBadTTL        = errors.New("turnrest: ttl must be > 0")
	ErrBadPrefix     = errors.New("turnrest: username prefix must be non-empty and must not contain ':'")
	ErrBadSubject    = errors.New("turnrest: subject must be non-empty and must not contain ':'")
	errSubjectSource = errors.New("turnrest: subject source failed")
)

type Options struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now defaults to time.Now.
	Now func() time.Time
	// NewSubject supplies the subject for Issue when the caller has none.
	// Defaults to a random UUID without dashes.
	NewSubject func() (string, error)
}

type Issuer struct {
	secret     []byte
	ttl        time.Duration
	prefix     string
	now        func() time.Time
	newSubject func() (string, error)
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

func NewIssuer(opts Options) (*Issuer, error) {
	switch {
	case opts.SharedSecret == "":
		return nil, ErrNoSecret
	case opts.TTL < time.Second:
		return nil, ErrBadTTL
	case !validToken(opts.UsernamePrefix):
		return nil, ErrBadPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSubject == nil {
		opts.NewSubject = randomSubject
	}
	return &Issuer{
		secret:     []byte(opts.SharedSecret),
		ttl:        opts.TTL,
		prefix:     opts.UsernamePrefix,
		now:        opts.Now,
		newSubject: opts.NewSubject,
	}, nil
}

// IssueFor mints credentials bound to subject.
func (i *Issuer) IssueFor(subject string) (Credentials, error) {
	if !validToken(subject) {
		return Credentials{}, ErrBadSubject
	}
	expires := i.now().UTC().Add(i.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + i.prefix + ":" + subject
	return Credentials{
		Username:   username,
		Credential: Sign(i.secret, username),
		Expires:    expires,
	}, nil
}

// Issue mints credentials for a fresh random subject.
func (i *Issuer) Issue() (Credentials, error) {
	subject, err := i.newSubject()
	if err != nil {
		return Credentials{}, errors.Join(errSubjectSource, err)
	}
	return i.IssueFor(subject)
}

// Sign returns the coturn credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func randomSubject() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

func validToken(s string) bool {
	return s != "" && !strings.Contains(s, ":")
}
