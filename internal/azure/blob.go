package azure

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"call-audit-go/internal/logger"
)

// Blob uploads staged recordings as block blobs using a SAS token.
type Blob struct {
	client
	accountURL string
	container  string
	sas        string
}

func NewBlob(accountURL, container, sasToken string, httpClient *http.Client, log *logger.Logger) *Blob {
	return &Blob{
		client:     newClient(httpClient, log.Component("azure.blob")),
		accountURL: strings.TrimRight(accountURL, "/"),
		container:  container,
		sas:        strings.TrimPrefix(sasToken, "?"),
	}
}

// Upload puts the file under a random name and returns its SAS-signed URL.
// The URL is valid for as long as the SAS token is.
func (b *Blob) Upload(ctx context.Context, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(localPath))
	name := uuid.NewString() + ext
	blobURL := b.accountURL + "/" + url.PathEscape(b.container) + "/" + name
	signed := blobURL
	if b.sas != "" {
		signed += "?" + b.sas
	}

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	build := func(ctx context.Context) (*http.Request, error) {
		f, err := os.Open(localPath)
		if err != nil {
			return nil, fmt.Errorf("open upload: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, signed, f)
		if err != nil {
			f.Close()
			return nil, err
		}
		req.ContentLength = info.Size()
		req.Header.Set("x-ms-blob-type", "BlockBlob")
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}
	if err := b.do(ctx, build, nil); err != nil {
		return "", fmt.Errorf("upload blob: %w", err)
	}

	b.log.WithField("blob", name).WithField("bytes", info.Size()).Info("audio uploaded")
	return signed, nil
}
