// Package signing builds HMAC-signed proxy URLs so an HLS proxy can replay
// upstream playlists with the headers the origin expects.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Signer struct {
	Secret []byte
}

type Signed struct {
	URL     string
	Exp     int64
	UID     string
	Sig     string
	Headers map[string]string
}

func New(secret string) *Signer {
	return &Signer{Secret: []byte(secret)}
}

func (s *Signer) Sign(rawURL, subject string, exp time.Time) Signed {
	return s.SignWithHeaders(rawURL, subject, exp, nil)
}

// SignWithHeaders signs rawURL and carries hdrs alongside it. The headers
// are not part of the MAC; the proxy only forwards them upstream.
func (s *Signer) SignWithHeaders(rawURL, subject string, exp time.Time, hdrs map[string]string) Signed {
	sig := s.signValue(rawURL, subject, exp.Unix())
	out := Signed{URL: rawURL, Exp: exp.Unix(), UID: subject, Sig: sig}
	if len(hdrs) > 0 {
		out.Headers = make(map[string]string, len(hdrs))
		for k, v := range hdrs {
			out.Headers[k] = v
		}
	}
	return out
}

func (s *Signer) Verify(rawURL, subject string, exp int64, sig string) bool {
	if time.Now().Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.signValue(rawURL, subject, exp)))
}

func (s *Signer) signValue(rawURL, subject string, exp int64) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(rawURL))
	mac.Write([]byte("|"))
	mac.Write([]byte(subject))
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func BuildSignedURL(base string, signed Signed) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("url", signed.URL)
	q.Set("exp", strconv.FormatInt(signed.Exp, 10))
	q.Set("uid", signed.UID)
	q.Set("sig", signed.Sig)
	if len(signed.Headers) > 0 {
		enc, err := encodeHeaders(signed.Headers)
		if err != nil {
			return "", err
		}
		q.Set("hdr", enc)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func ExtractSigned(query url.Values) (string, string, int64, string, error) {
	rawURL := strings.TrimSpace(query.Get("url"))
	uid := strings.TrimSpace(query.Get("uid"))
	expStr := strings.TrimSpace(query.Get("exp"))
	sig := strings.TrimSpace(query.Get("sig"))
	if rawURL == "" || uid == "" || expStr == "" || sig == "" {
		return "", "", 0, "", fmt.Errorf("missing signed params")
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", "", 0, "", err
	}
	return rawURL, uid, exp, sig, nil
}

// ExtractHeaders decodes the hdr param. Missing or malformed values yield nil.
func ExtractHeaders(query url.Values) map[string]string {
	raw := strings.TrimSpace(query.Get("hdr"))
	if raw == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal(b, &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}

func encodeHeaders(hdrs map[string]string) (string, error) {
	// encoding/json sorts map keys, so equal header sets encode identically.
	b, err := json.Marshal(hdrs)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
