package supabase

import (
	"context"
	"net/http"
	"strings"
)

// Upload はオブジェクトをバケットに保存する。
func (c *Client) Upload(ctx context.Context, accessToken, bucket, path, contentType string, body []byte, upsert bool) error {
	header := http.Header{}
	if upsert {
		header.Set("x-upsert", "true")
	}
	if body == nil {
		body = []byte{}
	}
	return c.do(ctx, request{
		op:          "storage.upload",
		method:      http.MethodPost,
		path:        "/storage/v1/object/" + bucket + "/" + strings.TrimLeft(path, "/"),
		token:       accessToken,
		header:      header,
		body:        body,
		contentType: contentType,
	})
}

// PublicURL はオブジェクトの公開URLを返す。
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + strings.TrimLeft(path, "/")
}
