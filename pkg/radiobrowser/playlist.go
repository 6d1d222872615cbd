package radiobrowser

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ResolveStreamURL resolves playlist indirections. Some directory entries
// point at a .pls or .m3u playlist rather than the stream itself; the
// transcoder wants a direct URL. URLs that don't look like playlists are
// returned unchanged without being fetched.
func (c *Client) ResolveStreamURL(ctx context.Context, streamURL string) (string, error) {
	if !looksLikePlaylist(streamURL) {
		return streamURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch playlist")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("playlist fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", errors.Wrap(err, "failed to read playlist")
	}
	content := string(data)

	if strings.Contains(content, "[playlist]") || strings.Contains(content, "File1=") {
		return parsePLS(content)
	}

	return parseM3U(content)
}

func looksLikePlaylist(u string) bool {
	trimmed := strings.ToLower(u)
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}

	return strings.HasSuffix(trimmed, ".pls") ||
		strings.HasSuffix(trimmed, ".m3u") ||
		strings.HasSuffix(trimmed, ".m3u8")
}

// parsePLS returns the first FileN entry of a PLS playlist.
func parsePLS(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "File") && strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if u := strings.TrimSpace(parts[1]); u != "" {
				return u, nil
			}
		}
	}

	return "", errors.New("no stream URL found in PLS playlist")
}

// parseM3U returns the first non-comment URL of an M3U playlist.
func parseM3U(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}

	return "", errors.New("no stream URL found in M3U playlist")
}
