package netclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	charcoalerr "github.com/chaosgreml/charcoal/core/errors"
	"github.com/chaosgreml/charcoal/core/model"
)

// Session holds the credentials the validate command needs to read the
// protected user's own block list — a PDS endpoint and an access token,
// neither of which the rest of this read-only client ever touches.
type Session struct {
	PDSURL      string
	AccessToken string
	DID         string
}

type plcService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

type plcDocument struct {
	Service []plcService `json:"service"`
}

// ResolvePDSURL looks up a DID's personal data server endpoint via the
// plc.directory. Only did:plc identifiers are supported; any other DID
// method (did:web included) returns a TierPermanent error. Charcoal only
// ever authenticates against did:plc accounts, which cover the
// overwhelming majority of Bluesky users.
func (c *Client) ResolvePDSURL(ctx context.Context, did string) (string, error) {
	if !strings.HasPrefix(did, "did:plc:") {
		return "", charcoalerr.NewTieredError(charcoalerr.TierPermanent,
			"unsupported DID method for PDS resolution: "+did, nil)
	}

	var doc plcDocument
	endpoint := "https://plc.directory/" + url.PathEscape(did)
	if err := c.get(ctx, endpoint, &doc); err != nil {
		return "", err
	}

	for _, svc := range doc.Service {
		if svc.Type == "AtprotoPersonalDataServer" {
			return strings.TrimSuffix(svc.ServiceEndpoint, "/"), nil
		}
	}
	return "", charcoalerr.NewTieredError(charcoalerr.TierPermanent,
		"no AtprotoPersonalDataServer entry found for "+did, nil)
}

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionResponse struct {
	DID        string `json:"did"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
}

// CreateSession authenticates to pdsURL with an app password via
// com.atproto.server.createSession, returning a Session usable for the
// single call ListOwnBlocks needs. Charcoal never stores this token; it
// lives only for the lifetime of one `validate` invocation.
func (c *Client) CreateSession(ctx context.Context, pdsURL, handle, appPassword string) (Session, error) {
	body, err := json.Marshal(createSessionRequest{Identifier: handle, Password: appPassword})
	if err != nil {
		return Session{}, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "marshal session request", err)
	}

	endpoint := strings.TrimSuffix(pdsURL, "/") + "/xrpc/com.atproto.server.createSession"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "build session request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, charcoalerr.WrapWithTier(charcoalerr.TierTransient, "create session request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, charcoalerr.WrapWithTier(charcoalerr.TierTransient, "read session response", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody), Endpoint: endpoint}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
			return Session{}, charcoalerr.WrapWithTier(charcoalerr.TierUserFixable, "authentication failed", apiErr)
		}
		return Session{}, charcoalerr.WrapWithTier(charcoalerr.TierTransient, "create session failed", apiErr)
	}

	var sessionResp createSessionResponse
	if err := json.Unmarshal(respBody, &sessionResp); err != nil {
		return Session{}, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "unmarshal session response", err)
	}

	return Session{
		PDSURL:      strings.TrimSuffix(pdsURL, "/"),
		AccessToken: sessionResp.AccessJwt,
		DID:         sessionResp.DID,
	}, nil
}

type blockRecordValue struct {
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

type listRecordsEntry struct {
	URI   string           `json:"uri"`
	Value blockRecordValue `json:"value"`
}

type listRecordsResponse struct {
	Records []listRecordsEntry `json:"records"`
	Cursor  string             `json:"cursor"`
}

// ListOwnBlocks fetches the session holder's own app.bsky.graph.block
// records, most recent first, authenticated against their PDS —
// grounded on original_source/src/main.rs's Validate command, which
// reads block records directly from the PDS rather than through the
// public AppView (the AppView exposes no "list my blocks" endpoint).
func (c *Client) ListOwnBlocks(ctx context.Context, session Session, limit int) ([]model.BlockedAccount, error) {
	v := url.Values{}
	v.Set("repo", session.DID)
	v.Set("collection", "app.bsky.graph.block")
	v.Set("limit", strconv.Itoa(limit))
	v.Set("reverse", "true")

	endpoint := fmt.Sprintf("%s/xrpc/com.atproto.repo.listRecords?%s", session.PDSURL, v.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "build list records request", err)
	}
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierTransient, "list records request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierTransient, "read list records response", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body), Endpoint: endpoint}
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierTransient, "list records failed", apiErr)
	}

	var listResp listRecordsResponse
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "unmarshal list records response", err)
	}

	blocks := make([]model.BlockedAccount, 0, len(listResp.Records))
	for _, rec := range listResp.Records {
		if rec.Value.Subject == "" {
			continue
		}
		blocks = append(blocks, model.BlockedAccount{DID: rec.Value.Subject, Handle: rec.Value.Subject})
	}
	return blocks, nil
}
