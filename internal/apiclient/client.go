// Package apiclient is a thin typed façade over the APSIS One REST API.
// One method per remote operation; every method reports the uniform
// three-outcome Result. No retries, no caching — retry policy belongs to the
// sync coordinator.
package apiclient

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marketbridge/apsis-sync/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Client calls the remote API. Bearer tokens are passed per call so one
// client can serve every account scope.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client against the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// GetAccessToken performs the client-credentials grant. ExpiresIn is the
// token lifetime in seconds from now.
func (c *Client) GetAccessToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, Result) {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     c.baseURL + "/oauth/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := cfg.Token(ctx)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil && rErr.Response.StatusCode < 500 {
			msg := rErr.ErrorDescription
			if msg == "" {
				msg = strings.TrimSpace(string(rErr.Body))
			}
			return nil, Remote(msg)
		}
		return nil, Transport(err.Error())
	}

	expiresIn := int64(time.Until(tok.Expiry).Seconds())
	return &TokenResponse{AccessToken: tok.AccessToken, ExpiresIn: expiresIn}, OK
}

// GetKeyspaces lists all registered keyspaces.
func (c *Client) GetKeyspaces(ctx context.Context, token string) (*ItemList, Result) {
	var out ItemList
	res := c.call(ctx, token, http.MethodGet, "/audience/keyspaces", nil, &out)
	return &out, res
}

// GetChannels lists all available communication channels.
func (c *Client) GetChannels(ctx context.Context, token string) (*ItemList, Result) {
	var out ItemList
	res := c.call(ctx, token, http.MethodGet, "/audience/channels", nil, &out)
	return &out, res
}

// GetSections lists all sections on the account.
func (c *Client) GetSections(ctx context.Context, token string) (*ItemList, Result) {
	var out ItemList
	res := c.call(ctx, token, http.MethodGet, "/audience/sections", nil, &out)
	return &out, res
}

// GetAttributes lists all attributes within a section.
func (c *Client) GetAttributes(ctx context.Context, token, section string) (*AttributeList, Result) {
	var out AttributeList
	path := fmt.Sprintf("/audience/sections/%s/attributes", url.PathEscape(section))
	res := c.call(ctx, token, http.MethodGet, path, nil, &out)
	return &out, res
}

// GetConsentLists lists all consent lists within a section.
func (c *Client) GetConsentLists(ctx context.Context, token, section string) (*ItemList, Result) {
	var out ItemList
	path := fmt.Sprintf("/audience/sections/%s/consent-lists", url.PathEscape(section))
	res := c.call(ctx, token, http.MethodGet, path, nil, &out)
	return &out, res
}

// GetTopics lists all topics on a consent list.
func (c *Client) GetTopics(ctx context.Context, token, section, consentList string) (*ItemList, Result) {
	var out ItemList
	path := fmt.Sprintf("/audience/sections/%s/consent-lists/%s/topics",
		url.PathEscape(section), url.PathEscape(consentList))
	res := c.call(ctx, token, http.MethodGet, path, nil, &out)
	return &out, res
}

// GetEventTypes lists all event types within a section.
func (c *Client) GetEventTypes(ctx context.Context, token, section string) (*ItemList, Result) {
	var out ItemList
	path := fmt.Sprintf("/audience/sections/%s/events", url.PathEscape(section))
	res := c.call(ctx, token, http.MethodGet, path, nil, &out)
	return &out, res
}

// UpsertProfileAttributes stores a set of attribute values on a profile.
func (c *Client) UpsertProfileAttributes(
	ctx context.Context,
	token, keyspace, profileKey, section string,
	attributes map[string]interface{},
) Result {
	path := fmt.Sprintf("/audience/keyspaces/%s/profiles/%s/sections/%s/attributes",
		url.PathEscape(keyspace), url.PathEscape(profileKey), url.PathEscape(section))
	return c.call(ctx, token, http.MethodPatch, path, attributes, nil)
}

// GetProfileEvents lists events already recorded on a profile, optionally
// filtered by event type ids.
func (c *Client) GetProfileEvents(
	ctx context.Context,
	token, keyspace, profileKey, section string,
	typeIDs []string,
) (*ItemList, Result) {
	var out ItemList
	path := fmt.Sprintf("/audience/keyspaces/%s/profiles/%s/sections/%s/events",
		url.PathEscape(keyspace), url.PathEscape(profileKey), url.PathEscape(section))
	if len(typeIDs) > 0 {
		path += "?event_types=" + url.QueryEscape(strings.Join(typeIDs, ","))
	}
	res := c.call(ctx, token, http.MethodGet, path, nil, &out)
	return &out, res
}

// PostEvents posts a batch of events to one profile.
func (c *Client) PostEvents(
	ctx context.Context,
	token, keyspace, profileKey, section string,
	items []map[string]interface{},
) Result {
	path := fmt.Sprintf("/audience/keyspaces/%s/profiles/%s/sections/%s/events",
		url.PathEscape(keyspace), url.PathEscape(profileKey), url.PathEscape(section))
	return c.call(ctx, token, http.MethodPost, path, map[string]interface{}{"items": items}, nil)
}

// SubscribeToTopic subscribes a profile to a consent-list topic.
func (c *Client) SubscribeToTopic(
	ctx context.Context,
	token, keyspace, profileKey, section, consentList, topic string,
) Result {
	path := fmt.Sprintf("/audience/keyspaces/%s/profiles/%s/sections/%s/subscriptions",
		url.PathEscape(keyspace), url.PathEscape(profileKey), url.PathEscape(section))
	body := map[string]interface{}{
		"consent_list_discriminator": consentList,
		"topic_discriminator":        topic,
	}
	return c.call(ctx, token, http.MethodPost, path, body, nil)
}

// CreateConsent records a consent for an address on a channel.
func (c *Client) CreateConsent(
	ctx context.Context,
	token, channel, address, section, consentList, topic, consentType string,
) Result {
	path := fmt.Sprintf("/audience/channels/%s/addresses/%s/consents",
		url.PathEscape(channel), url.PathEscape(address))
	body := map[string]interface{}{
		"section_discriminator":      section,
		"consent_list_discriminator": consentList,
		"topic_discriminator":        topic,
		"type":                       consentType,
	}
	return c.call(ctx, token, http.MethodPost, path, body, nil)
}

// InitializeImport starts a bulk profile import for a section. The column
// mapping must match the staged CSV header.
func (c *Client) InitializeImport(ctx context.Context, token, section string, mappings []string) (*ImportInit, Result) {
	var out ImportInit
	path := fmt.Sprintf("/audience/sections/%s/imports", url.PathEscape(section))
	res := c.call(ctx, token, http.MethodPost, path, map[string]interface{}{"mappings": mappings}, &out)
	if res.Outcome == Success && out.ImportID == "" {
		return nil, Transport("initialize import returned empty import_id")
	}
	return &out, res
}

// UploadImportFile posts the staged CSV to the signed upload URL returned by
// InitializeImport. The URL embeds its own authorization; no bearer token.
func (c *Client) UploadImportFile(ctx context.Context, uploadURL string, body map[string]string, filePath string) Result {
	f, err := os.Open(filePath)
	if err != nil {
		// A missing staged file is not retriable: surface it as a terminal
		// verdict so the batch fails instead of polling forever.
		return Remote(fmt.Sprintf("staged file unreadable: %v", err))
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range body {
		if err := mw.WriteField(k, v); err != nil {
			return Transport(err.Error())
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return Transport(err.Error())
	}
	if _, err := io.Copy(part, f); err != nil {
		return Transport(err.Error())
	}
	if err := mw.Close(); err != nil {
		return Transport(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return Transport(err.Error())
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transport(err.Error())
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	return classify(resp.StatusCode, raw)
}

// GetImportStatus polls the status of a bulk import.
func (c *Client) GetImportStatus(ctx context.Context, token, section, importID string) (*ImportStatus, Result) {
	var out ImportStatus
	path := fmt.Sprintf("/audience/sections/%s/imports/%s", url.PathEscape(section), url.PathEscape(importID))
	res := c.call(ctx, token, http.MethodGet, path, nil, &out)
	return &out, res
}

// KeyspaceDiscriminator derives the integration keyspace for a section. The
// template is fixed on the remote side; changing it orphans every profile
// key already written.
func KeyspaceDiscriminator(section string) string {
	sum := md5.Sum([]byte(section))
	return fmt.Sprintf("com.apsis1.integrations.keyspaces.%s.magento", hex.EncodeToString(sum[:])[:8])
}

// call performs one authorized request and decodes a 2xx body into out (when
// out is non-nil).
func (c *Client) call(ctx context.Context, token, method, path string, payload interface{}, out interface{}) Result {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Transport(fmt.Sprintf("marshal payload: %v", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return Transport(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transport(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transport(err.Error())
	}

	if res := classify(resp.StatusCode, raw); res.Outcome != Success {
		if res.Outcome == TransportFailure {
			log.Printf("⚠️ %s %s returned %d: %s", method, path, resp.StatusCode, util.Truncate(string(raw)))
		}
		return res
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return Transport(fmt.Sprintf("decode response: %v", err))
		}
	}
	return OK
}

// classify maps an HTTP response to the three-outcome contract: 2xx is
// success, a parseable problem payload below 500 is a terminal remote
// verdict, everything else is a retriable transport failure.
func classify(status int, raw []byte) Result {
	if status >= 200 && status < 300 {
		return OK
	}
	if status < 500 {
		var p problem
		if err := json.Unmarshal(raw, &p); err == nil && p.Detail != "" {
			return Remote(fmt.Sprintf("%d %s: %s", p.Status, p.Title, p.Detail))
		}
	}
	return Transport(fmt.Sprintf("status %d", status))
}
