package apiclient

import (
	"bytes"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/tidwall/gjson"

	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
	Method     string
	RequestID  string
	Duration   time.Duration
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) Text() string { return string(r.Body) }

// MediaType returns the Content-Type without parameters.
func (r *Response) MediaType() string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// IsJSON reports whether the body is JSON, by media type or, failing that, by content.
func (r *Response) IsJSON() bool {
	mt := r.MediaType()
	if mt == "application/json" || strings.HasSuffix(mt, "+json") {
		return true
	}
	return mt == "" && gjson.ValidBytes(r.Body)
}

// IsXML reports whether the body is XML, by media type or by an XML declaration.
func (r *Response) IsXML() bool {
	switch mt := r.MediaType(); {
	case mt == "application/xml", mt == "text/xml", strings.HasSuffix(mt, "+xml"):
		return true
	case mt == "":
		return bytes.HasPrefix(bytes.TrimSpace(r.Body), []byte("<?xml"))
	}
	return false
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return qaerr.API(qaerr.ErrCodeExtractionFailed, "apiclient", "response body is not valid JSON", err)
	}
	return nil
}

// Get evaluates a gjson path, e.g. "data.items.0.id", against the body.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// XML parses the body as an XML document.
func (r *Response) XML() (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(r.Body); err != nil {
		return nil, qaerr.API(qaerr.ErrCodeExtractionFailed, "apiclient", "response body is not valid XML", err)
	}
	return doc, nil
}
