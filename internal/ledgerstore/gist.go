package ledgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scholarpass/internal/license"
)

// DefaultGistAPIURL is the public GitHub REST endpoint.
const DefaultGistAPIURL = "https://api.github.com"

// maxGistBody bounds what is read from a single API response.
const maxGistBody = 10 << 20

// GistConfig configures a Gist-backed ledger.
type GistConfig struct {
	BaseURL    string
	GistID     string
	Token      string
	FileName   string
	HTTPClient *http.Client
}

// Gist stores the ledger as one file of a GitHub Gist. Writes are a PATCH of
// the whole file; GitHub offers no conditional update for Gists.
type Gist struct {
	baseURL  string
	gistID   string
	token    string
	fileName string
	client   *http.Client
}

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
}

type gistDocument struct {
	ID        string              `json:"id"`
	UpdatedAt string              `json:"updated_at"`
	Files     map[string]gistFile `json:"files"`
	History   []struct {
		Version string `json:"version"`
	} `json:"history"`
}

type gistPatch struct {
	Files map[string]gistFile `json:"files"`
}

// NewGist validates cfg and returns a store. Missing credentials yield
// license.ErrStoreNotConfigured.
func NewGist(cfg GistConfig) (*Gist, error) {
	if cfg.Token == "" || cfg.GistID == "" {
		return nil, fmt.Errorf("gist store needs an access token and a gist id: %w", license.ErrStoreNotConfigured)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGistAPIURL
	}
	if cfg.FileName == "" {
		cfg.FileName = "licenses.json"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Gist{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		gistID:   cfg.GistID,
		token:    cfg.Token,
		fileName: cfg.FileName,
		client:   cfg.HTTPClient,
	}, nil
}

// Fetch reads the ledger file from the gist. A gist without the file is an
// empty ledger.
func (g *Gist) Fetch(ctx context.Context) (*license.Snapshot, error) {
	doc, err := g.get(ctx)
	if err != nil {
		return nil, err
	}

	version := license.Version(doc.UpdatedAt)
	if len(doc.History) > 0 && doc.History[0].Version != "" {
		version = license.Version(doc.History[0].Version)
	}

	file, ok := doc.Files[g.fileName]
	if !ok {
		return &license.Snapshot{Ledger: license.Ledger{}, Version: version}, nil
	}

	content := []byte(file.Content)
	if file.Truncated && file.RawURL != "" {
		content, err = g.raw(ctx, file.RawURL)
		if err != nil {
			return nil, err
		}
	}

	ledger, err := license.DecodeLedger(content)
	if err != nil {
		return nil, fmt.Errorf("gist %s: %w", g.fileName, err)
	}
	return &license.Snapshot{Ledger: ledger, Version: version}, nil
}

// Replace overwrites the ledger file. ifMatch is not sent.
func (g *Gist) Replace(ctx context.Context, ledger license.Ledger, _ license.Version) error {
	content, err := license.EncodeLedger(ledger)
	if err != nil {
		return err
	}

	body, err := json.Marshal(gistPatch{Files: map[string]gistFile{
		g.fileName: {Content: string(content)},
	}})
	if err != nil {
		return fmt.Errorf("failed to encode gist patch: %w", err)
	}

	req, err := g.newRequest(ctx, http.MethodPatch, g.gistURL(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gist update failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "gist update"); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxGistBody))
	return nil
}

// Ping checks the gist is reachable with the configured token.
func (g *Gist) Ping(ctx context.Context) error {
	_, err := g.get(ctx)
	return err
}

func (g *Gist) gistURL() string {
	return g.baseURL + "/gists/" + g.gistID
}

func (g *Gist) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build gist request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return req, nil
}

func (g *Gist) get(ctx context.Context) (*gistDocument, error) {
	req, err := g.newRequest(ctx, http.MethodGet, g.gistURL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gist fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "gist fetch"); err != nil {
		return nil, err
	}

	var doc gistDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGistBody)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode gist response: %w", err)
	}
	return &doc, nil
}

func (g *Gist) raw(ctx context.Context, url string) ([]byte, error) {
	req, err := g.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gist raw fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "gist raw fetch"); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxGistBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read gist raw content: %w", err)
	}
	return data, nil
}

// StatusError reports a non-2xx response from an HTTP backend.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}
