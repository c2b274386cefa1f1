// Package api is the CLI's client for the MedVault HTTP API.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/go-resty/resty/v2"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// Signer signs wallet personal messages.
type Signer interface {
	Address() string
	SignMessage(message string) string
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Uploaded struct {
	CID       string    `json:"cid"`
	IV        string    `json:"iv,omitempty"`
	Encrypted bool      `json:"encrypted"`
	Timestamp time.Time `json:"timestamp"`
}

type Metadata struct {
	FileName   string    `json:"fileName"`
	UploadedAt time.Time `json:"uploadedAt"`
	Size       int       `json:"size"`
	Encrypted  bool      `json:"encrypted"`
	IV         string    `json:"iv,omitempty"`
}

// Record is a fetched record; Data is the stored payload, ciphertext unless
// it was uploaded in the clear.
type Record struct {
	Data     []byte
	Metadata Metadata
}

type AuditEntry struct {
	LogID     string    `json:"logId"`
	Patient   string    `json:"patient"`
	Accessor  string    `json:"accessor"`
	RecordID  string    `json:"recordId,omitempty"`
	CID       string    `json:"cid,omitempty"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

type errorBody struct {
	Error string `json:"error"`
}

type Client struct {
	http *resty.Client

	mu    sync.RWMutex
	token string
}

func retryable(r *resty.Response, err error) bool {
	return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryable)
	return &Client{http: h}
}

// Token returns the current session token, if any.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx)
	if t := c.Token(); t != "" {
		r.SetHeader(common.AuthorizationHeaderName, "Bearer "+t)
	}
	return r
}

// do runs the request and decodes a 2xx body into out.
func do(ctx context.Context, r *resty.Response, err error, out any) error {
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if r.IsError() {
		return statusError(r)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(r *resty.Response) error {
	var body errorBody
	_ = json.Unmarshal(r.Body(), &body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(r.StatusCode())
	}

	switch code := r.StatusCode(); {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return common.ErrDenied
	case code == http.StatusNotFound:
		return common.ErrNotFound
	case code == http.StatusRequestEntityTooLarge:
		return common.ErrPayloadTooLarge
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", common.ErrInvalidRequest, msg)
	case code == http.StatusBadGateway:
		return fmt.Errorf("%w: %s", common.ErrCorruptPayload, msg)
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", code, msg)
	}
}

func (c *Client) Nonce(ctx context.Context, address string) (string, error) {
	var out struct {
		Nonce string `json:"nonce"`
	}
	r, err := c.request(ctx).
		SetBody(map[string]string{"address": address}).
		Post("/auth/nonce")
	if err := do(ctx, r, err, &out); err != nil {
		return "", err
	}
	return out.Nonce, nil
}

// Verify exchanges a signed nonce for a session and keeps its token for
// later calls.
func (c *Client) Verify(ctx context.Context, address, signature, nonce string) (Session, error) {
	var s Session
	r, err := c.request(ctx).
		SetBody(map[string]string{"address": address, "signature": signature, "nonce": nonce}).
		Post("/auth/verify")
	if err := do(ctx, r, err, &s); err != nil {
		return Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

// Login runs the nonce challenge for the signer's address.
func (c *Client) Login(ctx context.Context, s Signer) (Session, error) {
	nonce, err := c.Nonce(ctx, s.Address())
	if err != nil {
		return Session{}, err
	}
	return c.Verify(ctx, s.Address(), s.SignMessage(common.AuthMessage(nonce)), nonce)
}

// Upload stores data for the signer as patient. With preEncrypted the
// server keeps data as given.
func (c *Client) Upload(ctx context.Context, s Signer, fileName string, data []byte, preEncrypted bool) (Uploaded, error) {
	var out Uploaded
	r, err := c.request(ctx).
		SetBody(map[string]any{
			"fileData":       base64.StdEncoding.EncodeToString(data),
			"fileName":       fileName,
			"patientAddress": s.Address(),
			"signature":      s.SignMessage(common.UploadMessage(fileName)),
			"encrypted":      preEncrypted,
		}).
		Post("/records")
	if err := do(ctx, r, err, &out); err != nil {
		return Uploaded{}, err
	}
	return out, nil
}

// Fetch reads the record with cid belonging to patient on behalf of the
// signer.
func (c *Client) Fetch(ctx context.Context, s Signer, patient, cid string) (Record, error) {
	var out struct {
		Data     string   `json:"data"`
		Metadata Metadata `json:"metadata"`
	}
	r, err := c.request(ctx).
		SetPathParam("cid", cid).
		SetQueryParams(map[string]string{
			"patientAddress":   patient,
			"requesterAddress": s.Address(),
			"signature":        s.SignMessage(common.AccessMessage(cid)),
		}).
		Get("/records/{cid}")
	if err := do(ctx, r, err, &out); err != nil {
		return Record{}, err
	}
	data, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", common.ErrCorruptPayload, err)
	}
	return Record{Data: data, Metadata: out.Metadata}, nil
}

// Audit lists the patient's audit trail, newest first. A zero limit uses the
// server default.
func (c *Client) Audit(ctx context.Context, patient string, limit int) ([]AuditEntry, error) {
	req := c.request(ctx).SetPathParam("patient", patient)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	var out []AuditEntry
	r, err := req.Get("/audit/{patient}")
	if err := do(ctx, r, err, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping reports whether the server answers its liveness probe.
func (c *Client) Ping(ctx context.Context) error {
	r, err := c.http.R().SetContext(ctx).Get("/healthz")
	return do(ctx, r, err, nil)
}
