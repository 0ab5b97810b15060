// Package storage 把附件转存到 Azure Blob Storage，避免平台 CDN 链接过期。
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// Uploader 上传文件并返回可访问的 URL
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

type Blob struct {
	client    *azblob.Client
	container string
	now       func() time.Time
}

// NewBlob client 为 nil 时返回 nil，调用方据此判断是否启用转存
func NewBlob(client *azblob.Client, container string) *Blob {
	if client == nil {
		return nil
	}
	return &Blob{client: client, container: container, now: time.Now}
}

func (b *Blob) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	blobName := b.blobName(name)
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := b.client.UploadBuffer(ctx, b.container, blobName, data, opts); err != nil {
		return "", fmt.Errorf("upload blob %s: %w", blobName, err)
	}
	return blobURL(b.client.URL(), b.container, blobName), nil
}

// blobName 按日期分目录，文件名只保留 base
func (b *Blob) blobName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "attachment"
	}
	now := b.now().UTC()
	return fmt.Sprintf("%s/%d-%s", now.Format("2006/01/02"), now.UnixNano(), base)
}

func blobURL(serviceURL, container, blobName string) string {
	segments := strings.Split(blobName, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(serviceURL, "/") + "/" + url.PathEscape(container) + "/" + strings.Join(segments, "/")
}
