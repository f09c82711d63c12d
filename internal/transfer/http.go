package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/podushkina/uploadqueue/internal/task"
)

const DefaultUploadPath = "/api/v1/documents/create"

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// HTTPAdapter posts each upload as multipart/form-data to the document
// service: a "file" part and a "meta_data" JSON field.
type HTTPAdapter struct {
	client *resty.Client
	path   string
}

func NewHTTPAdapter(baseURL, uploadPath string) *HTTPAdapter {
	if uploadPath == "" {
		uploadPath = DefaultUploadPath
	}
	return &HTTPAdapter{
		client: resty.New().SetBaseURL(baseURL),
		path:   uploadPath,
	}
}

// Transfer streams the form through a pipe so progress follows the bytes
// actually handed to the connection rather than a pre-built buffer.
func (a *HTTPAdapter) Transfer(ctx context.Context, p Payload, meta task.Metadata, onProgress ProgressFunc) (any, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "marshal meta_data")
	}

	src, err := p.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(writeForm(mw, p.Name(), metaJSON, src, newCounter(p.Size(), onProgress)))
	}()

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", mw.FormDataContentType()).
		SetHeader("Accept", "application/json").
		SetBody(pr).
		Post(a.path)
	pr.CloseWithError(io.ErrClosedPipe)
	<-written

	if err != nil {
		return nil, failure(ctx, err, "upload %s", p.Name())
	}
	if resp.IsError() {
		return nil, errors.Errorf("upload %s: %s: %s", p.Name(), resp.Status(), errorMessage(resp.Body()))
	}

	body := resp.Body()
	if json.Valid(body) {
		return json.RawMessage(body), nil
	}
	return string(body), nil
}

func writeForm(mw *multipart.Writer, name string, meta []byte, src io.Reader, c *counter) error {
	ctype, body := sniff(src)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", ctype)
	part, err := mw.CreatePart(h)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(part, c.wrap(body)); err != nil {
		return errors.Wrap(err, "write file part")
	}
	if err := mw.WriteField("meta_data", string(meta)); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(mw.Close())
}

// errorMessage pulls a human readable message out of an error body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		for _, m := range []string{parsed.Message, parsed.Detail, parsed.Error} {
			if m != "" {
				return m
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
