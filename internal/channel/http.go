package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	logx "alertrelay/pkg/logx"
)

// maxErrBody bounds how much of a response body may appear in an error.
const maxErrBody = 200

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

// postJSON sends v as JSON and treats any non-2xx status as a
// TransportError. Extra headers are applied after Content-Type.
func postJSON(ctx context.Context, c *http.Client, channel, target string, v any, header http.Header) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", channel, err)
	}
	return postBody(ctx, c, channel, target, "application/json", body, header, nil)
}

func postForm(ctx context.Context, c *http.Client, channel, target string, form url.Values, user, pass string) error {
	auth := func(r *http.Request) { r.SetBasicAuth(user, pass) }
	return postBody(ctx, c, channel, target, "application/x-www-form-urlencoded", []byte(form.Encode()), nil, auth)
}

func postBody(ctx context.Context, c *http.Client, channel, target, contentType string, body []byte, header http.Header, mutate func(*http.Request)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		// The URL may embed a token; do not echo it.
		return &ConfigError{Channel: channel, Field: "url", Msg: "invalid URL"}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "alertrelay")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if mutate != nil {
		mutate(req)
	}

	resp, err := httpClient(c).Do(req)
	if err != nil {
		return &TransportError{Channel: channel, Err: scrubURLError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*maxErrBody))
		return &TransportError{
			Channel: channel,
			Status:  resp.StatusCode,
			Body:    logx.Truncate(strings.TrimSpace(string(b)), maxErrBody),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return nil
}

// scrubURLError drops the request URL from *url.Error; webhook URLs carry
// credentials.
func scrubURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return fmt.Errorf("%s request: %w", strings.ToLower(ue.Op), ue.Err)
	}
	return err
}
