// Package browser models the page location the auth core reads callback
// parameters from and navigates away with.
package browser

import (
	"fmt"
	"io"
	"net/url"
	"sync"
)

// Location is the current page address.
type Location interface {
	Href() string

	// Assign performs a full-page navigation to rawURL.
	Assign(rawURL string) error
}

// Window is an in-memory Location. Navigations are recorded and, when an
// output is set, written to it one per line.
type Window struct {
	mu      sync.Mutex
	href    string
	history []string
	out     io.Writer
}

var _ Location = (*Window)(nil)

func NewWindow(href string, out io.Writer) (*Window, error) {
	if _, err := parseAbsolute(href); err != nil {
		return nil, err
	}
	return &Window{href: href, out: out}, nil
}

func (w *Window) Href() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.href
}

func (w *Window) Assign(rawURL string) error {
	if _, err := parseAbsolute(rawURL); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.href = rawURL
	w.history = append(w.history, rawURL)
	if w.out != nil {
		if _, err := fmt.Fprintln(w.out, rawURL); err != nil {
			return fmt.Errorf("write navigation: %w", err)
		}
	}
	return nil
}

// Navigations returns every URL passed to Assign, oldest first.
func (w *Window) Navigations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.history...)
}

// Origin returns scheme://host of rawURL.
func Origin(rawURL string) (string, error) {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q is not absolute", rawURL)
	}
	return u, nil
}
