package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHIBPRangeURL is the Pwned Passwords range endpoint.
	DefaultHIBPRangeURL = "https://api.pwnedpasswords.com/range/"
	hibpUserAgent       = "passvault/0.2"
)

// HIBPResult captures whether a password hash suffix was found in the HIBP dataset.
type HIBPResult struct {
	Found bool
	Count int
}

// HIBPClient queries the Pwned Passwords range API using k-anonymity: only the
// first 5 hex chars of SHA1(pw) leave the machine.
type HIBPClient struct {
	baseURL string
	http    *http.Client
}

// NewHIBPClient returns a client for baseURL, or DefaultHIBPRangeURL when empty.
func NewHIBPClient(baseURL string) *HIBPClient {
	if baseURL == "" {
		baseURL = DefaultHIBPRangeURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HIBPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 4 * time.Second},
	}
}

// Check looks pw up in the range API.
// Behavior:
//   - SHA-1 of pw, upper-case hex, split into a 5-char prefix (sent) and a
//     35-char suffix (kept locally).
//   - Streams the "SUFFIX:COUNT" lines and returns on the first match.
//   - No match returns Found=false with a nil error.
//
// Network and HTTP failures are returned wrapped; the caller decides whether to
// fail open or closed.
func (c *HIBPClient) Check(ctx context.Context, pw string) (HIBPResult, error) {
	var result HIBPResult

	sum := sha1.Sum([]byte(pw))
	hashHex := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix := hashHex[:5]
	suffix := hashHex[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+prefix, nil)
	if err != nil {
		return result, fmt.Errorf("hibp request: %w", err)
	}
	req.Header.Set("User-Agent", hibpUserAgent)
	req.Header.Set("Add-Padding", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("hibp query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("hibp query: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		partIdx := strings.IndexByte(line, ':')
		if partIdx == -1 {
			continue
		}

		lineSuffix := line[:partIdx]
		countStr := strings.TrimSpace(line[partIdx+1:])
		if !strings.EqualFold(lineSuffix, suffix) {
			continue
		}

		count, err := strconv.Atoi(countStr)
		if err != nil {
			return result, fmt.Errorf("hibp parse count: %w", err)
		}
		// Padding entries carry a zero count.
		if count == 0 {
			continue
		}

		result.Found = true
		result.Count = count
		return result, nil
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("hibp read response: %w", err)
	}

	return result, nil
}
