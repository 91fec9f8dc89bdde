// Package gdapi is a client for the external "GD comments" API used as the
// slow-path challenge verification mechanism: a player proves account
// ownership by posting a comment whose text embeds the issued challenge
// value, and this package fetches and parses that comment back out.
// Grounded on original_source/server/central/src/web/routes/auth.rs's
// comment fetch/parse logic (parse_robtop_string and its call site).
package gdapi

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUpstreamDown is returned when the upstream API replies with the
// sentinel "-1" body it uses to signal an outage.
var ErrUpstreamDown = errors.New("gdapi: upstream returned -1")

// requestTimeout bounds the whole round trip, independent of any caller
// context deadline.
const requestTimeout = 10 * time.Second

// maxBodyBytes caps how much of the response this client will read, so a
// misbehaving or compromised upstream can't exhaust memory.
const maxBodyBytes = 256 * 1024

// maxComments caps how many parsed comment records Fetch returns.
const maxComments = 50

// fixed form fields the upstream API has always required, unrelated to any
// per-request parameter.
const (
	formSecret        = "Wmfd2893gb7"
	formGameVersion   = "22"
	formBinaryVersion = "38"
)

// Comment is one parsed comment record: the fields the challenge-
// verification path actually needs, out of the much larger robtop record.
type Comment struct {
	ID         string
	Text       string
	AuthorID   int32
	AuthorName string
}

// Client fetches page 0 of a level's comments from the configured upstream.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a client targeting endpoint (config's gd_api field).
func New(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

// Fetch retrieves and parses page 0 of levelID's comments.
func (c *Client) Fetch(ctx context.Context, levelID int32) ([]Comment, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	form := url.Values{
		"levelID":       {strconv.FormatInt(int64(levelID), 10)},
		"page":          {"0"},
		"secret":        {formSecret},
		"gameVersion":   {formGameVersion},
		"binaryVersion": {formBinaryVersion},
		"gdw":           {"0"},
		"mode":          {"0"},
		"total":         {"0"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
	}

	text := string(body)
	if text == "-1" {
		return nil, ErrUpstreamDown
	}

	return parseComments(text), nil
}

// parseComments implements the robtop "~"/"|"-delimited record format.
// Each comment entry is "<comment-fields>:<author-fields>", truncated at
// the first '#' (a trailing stats blob neither side of this API cares
// about). Entries missing any of the four required keys are skipped
// rather than erroring, matching the original's tolerant parsing.
func parseComments(body string) []Comment {
	if idx := strings.IndexByte(body, '#'); idx >= 0 {
		body = body[:idx]
	}

	var out []Comment
	for _, entry := range strings.Split(body, "|") {
		if len(out) >= maxComments {
			break
		}

		colon := strings.IndexByte(entry, ':')
		if colon < 0 {
			continue
		}

		comment := parseRobtopString(entry[:colon])
		author := parseRobtopString(entry[colon+1:])

		commentID, ok := comment["6"]
		if !ok {
			continue
		}
		commentText, ok := comment["2"]
		if !ok {
			continue
		}
		authorName, ok := author["1"]
		if !ok {
			continue
		}
		authorIDStr, ok := author["16"]
		if !ok {
			continue
		}

		authorID, err := strconv.ParseInt(authorIDStr, 10, 32)
		if err != nil {
			continue
		}

		decoded, err := base64.URLEncoding.DecodeString(commentText)
		if err != nil {
			continue
		}

		out = append(out, Comment{
			ID:         commentID,
			Text:       string(decoded),
			AuthorID:   int32(authorID),
			AuthorName: authorName,
		})
	}

	return out
}

// parseRobtopString splits a "~"-delimited key/value record
// ("2~abc~6~123") into a map. An odd number of fields drops the final
// unpaired key, matching the original's index-pair iteration.
func parseRobtopString(data string) map[string]string {
	fields := strings.Split(data, "~")
	out := make(map[string]string, len(fields)/2)

	for i := 0; i+1 < len(fields); i += 2 {
		out[fields[i]] = fields[i+1]
	}

	return out
}
