package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/loykin/xvbd/internal/process"
	"github.com/loykin/xvbd/internal/sudo"
)

// maxSudoBody bounds the request body read by handleSudo.
const maxSudoBody = 16 << 10

// SudoRequest submits a credential for testing. Signal names the action
// to apply on success; empty keeps the signal already pending.
type SudoRequest struct {
	Password Secret `json:"password"`
	Signal   string `json:"signal,omitempty"`
	Hide     *bool  `json:"hide,omitempty"`
}

// Secret is a JSON string decoded straight into bytes so the caller can
// clear it.
type Secret []byte

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("password must be a JSON string")
	}
	out, err := unquoteBytes(data[1:len(data)-1], make([]byte, 0, len(data)))
	if err != nil {
		clear(out[:cap(out)])
		return err
	}
	*s = out
	return nil
}

// unquoteBytes appends the unescaped JSON string body in to out.
func unquoteBytes(in, out []byte) ([]byte, error) {
	for i := 0; i < len(in); {
		c := in[i]
		if c != '\\' {
			out = append(out, c)
			i++
			continue
		}
		if i+1 >= len(in) {
			return out, errors.New("truncated escape")
		}
		switch e := in[i+1]; e {
		case '"', '\\', '/':
			out = append(out, e)
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'u':
			r, n, err := unquoteRune(in[i:])
			if err != nil {
				return out, err
			}
			out = utf8.AppendRune(out, r)
			i += n
			continue
		default:
			return out, fmt.Errorf("invalid escape %q", e)
		}
		i += 2
	}
	return out, nil
}

// unquoteRune decodes a \uXXXX escape, joining surrogate pairs, and reports
// how many input bytes it consumed.
func unquoteRune(in []byte) (rune, int, error) {
	r1, ok := hex4(in)
	if !ok {
		return 0, 0, errors.New("invalid unicode escape")
	}
	if !utf16.IsSurrogate(r1) {
		return r1, 6, nil
	}
	if r2, ok := hex4(in[6:]); ok {
		if r := utf16.DecodeRune(r1, r2); r != utf8.RuneError {
			return r, 12, nil
		}
	}
	return utf8.RuneError, 6, nil
}

func hex4(in []byte) (rune, bool) {
	if len(in) < 6 || in[0] != '\\' || in[1] != 'u' {
		return 0, false
	}
	var r rune
	for _, c := range in[2:6] {
		switch {
		case c >= '0' && c <= '9':
			c -= '0'
		case c >= 'a' && c <= 'f':
			c = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			c = c - 'A' + 10
		default:
			return 0, false
		}
		r = r<<4 | rune(c)
	}
	return r, true
}

// decodeSudoRequest parses body and clears it, leaving the password only in
// the returned request.
func decodeSudoRequest(body []byte) (SudoRequest, error) {
	defer clear(body)
	var req SudoRequest
	if err := json.Unmarshal(body, &req); err != nil {
		clear(req.Password)
		return SudoRequest{}, err
	}
	return req, nil
}

func (r *Router) handleSudoState(c *gin.Context) {
	if r.deps.Sudo == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "credential testing disabled"})
		return
	}
	writeJSON(c, http.StatusOK, r.deps.Sudo.Snapshot())
}

func (r *Router) handleSudo(c *gin.Context) {
	if r.deps.Sudo == nil || r.deps.Tester == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "credential testing disabled"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSudoBody))
	if err != nil {
		clear(body)
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "unreadable body"})
		return
	}
	req, err := decodeSudoRequest(body)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON"})
		return
	}

	sig := process.SignalNone
	if req.Signal != "" {
		s, err := process.ParseSignal(req.Signal)
		if err != nil {
			clear(req.Password)
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		sig = s
	}
	if err := r.deps.Sudo.SetSecret(req.Password); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, sudo.ErrTestInProgress) {
			code = http.StatusConflict
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	if sig != process.SignalNone {
		r.deps.Sudo.SetSignal(sig)
	}
	if req.Hide != nil {
		r.deps.Sudo.SetHide(*req.Hide)
	}

	// the test outlives the request
	done := r.deps.Tester.Test(context.Background())
	go func() {
		if err := <-done; err != nil {
			slog.Warn("credential test failed", "error", err)
		}
	}()
	writeJSON(c, http.StatusAccepted, r.deps.Sudo.Snapshot())
}
