// Package turnrest mints short-lived TURN credentials for coturn's
// use-auth-secret mode (draft-uberti-behave-turn-rest):
//
//	username   = <unix expiry>:<prefix>:<id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Expiry is the server's UTC clock plus the TTL.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Clock defaults to the wall clock.
	Clock clockwork.Clock
	// NewID returns the id part of generated usernames. Defaults to a
	// random UUID.
	NewID func() string
}

type Generator struct {
	secret []byte
	ttl    int64
	prefix string
	clock  clockwork.Clock
	newID  func() string
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTLSeconds,
		prefix: cfg.UsernamePrefix,
		clock:  cfg.Clock,
		newID:  cfg.NewID,
	}, nil
}

// Generate returns credentials bound to id, which must not contain ':'.
func (g *Generator) Generate(id string) (Credentials, error) {
	if id == "" {
		return Credentials{}, errors.New("id is required")
	}
	if strings.Contains(id, ":") {
		return Credentials{}, errors.New("id must not contain ':'")
	}
	expiry := g.clock.Now().UTC().Unix() + g.ttl
	username := fmt.Sprintf("%d:%s:%s", expiry, g.prefix, id)
	return Credentials{
		Username:   username,
		Credential: Sign(g.secret, username),
		Expires:    time.Unix(expiry, 0).UTC(),
	}, nil
}

func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(g.newID())
}

// Apply returns a copy of servers where every TURN entry carries creds.
// STUN entries are passed through untouched.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, s := range servers {
		s.URLs = append([]string(nil), s.URLs...)
		if isTURN(s) {
			s.Username = creds.Username
			s.Credential = creds.Credential
		}
		out[i] = s
	}
	return out
}

func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func isTURN(s webrtc.ICEServer) bool {
	for _, u := range s.URLs {
		u = strings.TrimSpace(u)
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
