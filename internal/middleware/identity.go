package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SessionHeader lets clients name their browser session without the
// middleware having to read the request body.
const SessionHeader = "X-Session-Id"

// maxPeek bounds how much of a request body is read to find the session.
const maxPeek = 64 << 10

// clientKey identifies the caller for rate limiting: the session id from
// the header, the query string or the JSON body, else the JWT subject,
// else "anon".  The value is only a bucket key and grants nothing.
func clientKey(c echo.Context) string {
	if s := c.Request().Header.Get(SessionHeader); s != "" {
		return truncate(s, 128)
	}
	if s := c.QueryParam("sessionId"); s != "" {
		return truncate(s, 128)
	}
	if s := bodySession(c); s != "" {
		return truncate(s, 128)
	}
	if s := Subject(c); s != "" {
		return s
	}
	return "anon"
}

// bodySession reads sessionId from a JSON body and puts the body back for
// the handler.  Beacons send JSON as text/plain, so the content type is
// not checked.
func bodySession(c echo.Context) string {
	req := c.Request()
	if req.Body == nil || req.Body == http.NoBody {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxPeek))
	rest := req.Body
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), rest), rest}
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	return body.SessionID
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
