package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"marquee/internal/config"
)

// DriveMover moves files on a WebDAV cloud drive.
type DriveMover struct {
	base     *url.URL
	username string
	token    string
	client   *http.Client
}

// NewDriveMover returns a mover for the configured drive.
func NewDriveMover(cfg config.DriveStorage) (*DriveMover, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("storage drive: invalid base_url %q", cfg.BaseURL)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &DriveMover{
		base:     base,
		username: cfg.Username,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (m *DriveMover) url(p string) string {
	u := *m.base
	u.Path = path.Join(m.base.Path, "/"+cleanKey(p))
	return u.String()
}

func (m *DriveMover) do(ctx context.Context, method, p string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, m.url(p), nil)
	if err != nil {
		return nil, permanent("drive "+strings.ToLower(method), p, err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	switch {
	case m.username != "":
		req.SetBasicAuth(m.username, m.token)
	case m.token != "":
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, transient("drive "+strings.ToLower(method), p, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return resp, nil
}

func (m *DriveMover) head(ctx context.Context, p string) (objectInfo, bool, error) {
	resp, err := m.do(ctx, http.MethodHead, p, nil)
	if err != nil {
		return objectInfo{}, false, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return objectInfo{}, false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		size := resp.ContentLength
		if size < 0 {
			size, _ = strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
		}
		return objectInfo{size: size, etag: resp.Header.Get("ETag")}, true, nil
	default:
		return objectInfo{}, false, statusError("drive head", p, resp.StatusCode)
	}
}

// Exists reports whether the file is present.
func (m *DriveMover) Exists(ctx context.Context, ref Ref) (bool, error) {
	_, ok, err := m.head(ctx, ref.Path)
	return ok, err
}

// Move issues a WebDAV MOVE with Overwrite: F after creating the destination
// collections.
func (m *DriveMover) Move(ctx context.Context, src, dst Ref) error {
	srcInfo, srcOK, err := m.head(ctx, src.Path)
	if err != nil {
		return err
	}
	if cleanKey(src.Path) == cleanKey(dst.Path) {
		if srcOK {
			return nil
		}
		return missing("drive move", src)
	}
	dstInfo, dstOK, err := m.head(ctx, dst.Path)
	if err != nil {
		return err
	}
	switch {
	case !srcOK && dstOK:
		return nil
	case !srcOK:
		return missing("drive move", src)
	case dstOK:
		return m.settle(ctx, src.Path, dst.Path, srcInfo, dstInfo)
	}

	if err := m.mkcolAll(ctx, path.Dir(cleanKey(dst.Path))); err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Destination", m.url(dst.Path))
	header.Set("Overwrite", "F")
	resp, err := m.do(ctx, "MOVE", src.Path, header)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusPreconditionFailed, http.StatusNotFound:
		// Destination appeared or source vanished concurrently; re-evaluate.
		srcInfo, srcOK, err = m.head(ctx, src.Path)
		if err != nil {
			return err
		}
		dstInfo, dstOK, err = m.head(ctx, dst.Path)
		if err != nil {
			return err
		}
		if !srcOK && dstOK {
			return nil
		}
		if srcOK && dstOK {
			return m.settle(ctx, src.Path, dst.Path, srcInfo, dstInfo)
		}
		return statusError("drive move", src.Path, resp.StatusCode)
	default:
		return statusError("drive move", src.Path, resp.StatusCode)
	}
}

func (m *DriveMover) settle(ctx context.Context, srcPath, dstPath string, srcInfo, dstInfo objectInfo) error {
	if !sameObject(srcInfo, dstInfo) {
		return permanent("drive move", dstPath, ErrDestinationConflict)
	}
	resp, err := m.do(ctx, http.MethodDelete, srcPath, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return statusError("drive delete", srcPath, resp.StatusCode)
}

func (m *DriveMover) mkcolAll(ctx context.Context, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	current := ""
	for _, segment := range strings.Split(dir, "/") {
		current = path.Join(current, segment)
		resp, err := m.do(ctx, "MKCOL", current, nil)
		if err != nil {
			return err
		}
		switch resp.StatusCode {
		case http.StatusCreated, http.StatusMethodNotAllowed, http.StatusOK:
		default:
			return statusError("drive mkcol", current, resp.StatusCode)
		}
	}
	return nil
}

func statusError(op, p string, status int) error {
	msg := fmt.Sprintf("%s: unexpected status %d", p, status)
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return transient(op, msg, nil)
	}
	return permanent(op, msg, nil)
}
