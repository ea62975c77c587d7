package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"home-manager/internal/observability/metrics"
)

// Headers carried by signed device ingest requests.
const (
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	HeaderIngestSignature = "X-Ingest-Signature"

	maxIngestBody = 64 << 10
)

// ingestError pairs a rejection reason with its HTTP status.
type ingestError struct {
	status int
	reason string
}

func (e *ingestError) Error() string { return e.reason }

var (
	errIngestNotConfigured = &ingestError{http.StatusUnauthorized, "ingest auth not configured"}
	errIngestMissing       = &ingestError{http.StatusUnauthorized, "missing ingest signature"}
	errIngestTimestamp     = &ingestError{http.StatusUnauthorized, "invalid ingest timestamp"}
	errIngestExpired       = &ingestError{http.StatusUnauthorized, "ingest signature expired"}
	errIngestSignature     = &ingestError{http.StatusUnauthorized, "invalid ingest signature"}
	errIngestTooLarge      = &ingestError{http.StatusRequestEntityTooLarge, "body too large"}
	errIngestRead          = &ingestError{http.StatusBadRequest, "read body error"}
)

// IngestAuthMiddleware checks that device reports posted over HTTP are signed
// with the shared secret and fresh within MaxSkew.
type IngestAuthMiddleware struct {
	Secret  []byte
	MaxSkew time.Duration
	Now     func() time.Time
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{Secret: secret, MaxSkew: maxSkew, Now: time.Now}
}

// Wrap verifies the signature and hands the buffered body to next.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := m.verify(r)
		if err != nil {
			var rejected *ingestError
			if !errors.As(err, &rejected) {
				rejected = errIngestRead
			}
			metrics.IncTransportMessage("http", "unauthorized")
			http.Error(w, rejected.reason, rejected.status)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (m *IngestAuthMiddleware) verify(r *http.Request) ([]byte, error) {
	if len(m.Secret) == 0 {
		return nil, errIngestNotConfigured
	}
	timestamp := strings.TrimSpace(r.Header.Get(HeaderIngestTimestamp))
	signature := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderIngestSignature)))
	if timestamp == "" || signature == "" {
		return nil, errIngestMissing
	}
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, errIngestTimestamp
	}
	if m.MaxSkew > 0 && absDuration(m.now().Sub(time.Unix(sec, 0))) > m.MaxSkew {
		return nil, errIngestExpired
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, errIngestRead
	}
	if len(body) > maxIngestBody {
		return nil, errIngestTooLarge
	}
	if !hmac.Equal([]byte(signature), []byte(SignIngest(m.Secret, timestamp, body))) {
		return nil, errIngestSignature
	}
	return body, nil
}

func (m *IngestAuthMiddleware) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// SignIngest returns the hex HMAC-SHA256 of "timestamp\nbody".
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp + "\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
