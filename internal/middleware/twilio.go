package middleware

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // Twilio signs webhooks with HMAC-SHA1
	"encoding/base64"
	"errors"
	"net/http"
	"sort"
	"strings"
)

const headerTwilioSignature = "X-Twilio-Signature"

// TwilioSignature verifies the X-Twilio-Signature header of form-encoded
// webhooks. authToken is read per request so a rotated token applies at once.
// publicURL, when set, replaces scheme and host of the signed URL, for
// deployments behind a proxy.
func TwilioSignature(authToken func() string, publicURL string) func(http.Handler) http.Handler {
	publicURL = strings.TrimRight(publicURL, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := authToken()
			if token == "" {
				http.Error(w, `{"error":"webhook token not configured"}`, http.StatusServiceUnavailable)
				return
			}
			sig := r.Header.Get(headerTwilioSignature)
			if sig == "" {
				http.Error(w, "missing webhook signature", http.StatusUnauthorized)
				return
			}
			if err := r.ParseForm(); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, "invalid form body", http.StatusBadRequest)
				return
			}

			expected := TwilioSign(token, signedURL(r, publicURL), r.PostForm)
			if !hmac.Equal([]byte(sig), []byte(expected)) {
				http.Error(w, "invalid webhook signature", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TwilioSign computes the signature Twilio sends for a request to fullURL
// with the given POST parameters: base64(HMAC-SHA1(token, url + sorted
// name/value pairs)).
func TwilioSign(authToken, fullURL string, params map[string][]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return publicURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
