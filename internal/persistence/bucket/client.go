// Package bucket uploads local files to an S3-compatible bucket (R2, MinIO, S3)
// with SigV4 request signing.
package bucket

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	sigAlgorithm = "AWS4-HMAC-SHA256"
	sigService   = "s3"

	// DefaultRegion is what R2 expects; MinIO and S3 accept their own.
	DefaultRegion = "auto"
)

type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

type Client struct {
	endpoint string
	bucket   string
	region   string
	creds    Credentials
	hc       *http.Client
	now      func() time.Time
}

// NewClient validates the endpoint and credentials. A missing scheme means https.
func NewClient(endpoint, bucket, region string, creds Credentials) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.Trim(strings.TrimSpace(bucket), "/")
	creds.AccessKeyID = strings.TrimSpace(creds.AccessKeyID)
	creds.SecretAccessKey = strings.TrimSpace(creds.SecretAccessKey)
	if endpoint == "" || bucket == "" || creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("bucket: endpoint, bucket and credentials are required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("bucket: parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("bucket: invalid endpoint %q", endpoint)
	}
	if region = strings.TrimSpace(region); region == "" {
		region = DefaultRegion
	}
	return &Client{
		endpoint: strings.TrimRight(u.String(), "/"),
		bucket:   bucket,
		region:   region,
		creds:    creds,
		hc:       &http.Client{Timeout: 2 * time.Minute},
		now:      time.Now,
	}, nil
}

// PutFile uploads localPath as objectKey with a path-style PUT.
func (c *Client) PutFile(ctx context.Context, objectKey, localPath string) error {
	key := cleanKey(objectKey)
	if key == "" {
		return fmt.Errorf("bucket: invalid object key %q", objectKey)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("bucket: %s is a directory", localPath)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	payloadHash := hex.EncodeToString(h.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	uri := "/" + c.bucket + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+uri, f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", contentType(key))
	c.sign(req, uri, payloadHash)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("bucket: put %s: status=%d body=%s", key, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *Client) sign(req *http.Request, uri, payloadHash string) {
	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	day := now.Format("20060102")
	host := req.URL.Host

	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)

	const signed = "host;x-amz-content-sha256;x-amz-date"
	canonical := strings.Join([]string{
		req.Method,
		uri,
		"",
		"host:" + host + "\nx-amz-content-sha256:" + payloadHash + "\nx-amz-date:" + amzDate + "\n",
		signed,
		payloadHash,
	}, "\n")
	scope := day + "/" + c.region + "/" + sigService + "/aws4_request"
	sum := sha256.Sum256([]byte(canonical))
	toSign := sigAlgorithm + "\n" + amzDate + "\n" + scope + "\n" + hex.EncodeToString(sum[:])

	key := hmacSum([]byte("AWS4"+c.creds.SecretAccessKey), day)
	key = hmacSum(key, c.region)
	key = hmacSum(key, sigService)
	key = hmacSum(key, "aws4_request")
	sig := hex.EncodeToString(hmacSum(key, toSign))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigAlgorithm, c.creds.AccessKeyID, scope, signed, sig))
}

func hmacSum(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(data))
	return m.Sum(nil)
}

// cleanKey normalizes a slash path and rejects keys that escape the bucket root.
func cleanKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" || clean == "." {
		return ""
	}
	return clean
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func contentType(key string) string {
	if strings.HasSuffix(key, ".zst") {
		return "application/zstd"
	}
	return "application/octet-stream"
}
