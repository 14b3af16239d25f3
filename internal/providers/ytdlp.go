package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/errkind"
)

// YtdlpClient shells out to yt-dlp for trailer probing and download. It
// implements both VideoMetadataProvider and VideoDownloader.
type YtdlpClient struct {
	binPath    string
	httpClient *http.Client
}

func NewYtdlpClient(binPath string) *YtdlpClient {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	return &YtdlpClient{
		binPath:    binPath,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type ytdlpInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Language string  `json:"language"`
	Formats  []struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Vcodec string `json:"vcodec"`
	} `json:"formats"`
}

// Probe runs yt-dlp --dump-json against the URL and reports playability,
// best available resolution and duration. Failures are classified by the
// tool's stderr text so callers can schedule retries correctly.
func (c *YtdlpClient) Probe(ctx context.Context, url string) (*VideoProbe, error) {
	cmd := exec.CommandContext(ctx, c.binPath, "--dump-json", "--no-playlist", "--no-warnings", url)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return classifyProbeFailure(stderr.String(), err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, errkind.Wrap(errkind.KindSchemaMismatch, "parse yt-dlp output", err)
	}

	probe := &VideoProbe{
		Playable: true,
		Duration: time.Duration(info.Duration * float64(time.Second)),
	}
	if info.Language != "" {
		lang := info.Language
		probe.Language = &lang
	}
	for _, f := range info.Formats {
		if f.Vcodec == "none" {
			continue
		}
		if f.Height > probe.Height {
			probe.Height = f.Height
			probe.Width = f.Width
		}
	}
	return probe, nil
}

// classifyProbeFailure buckets yt-dlp errors. Unavailable and private videos
// are permanent; rate limits carry a one-hour backoff hint; anything else is
// a transient download error.
func classifyProbeFailure(stderr string, cause error) (*VideoProbe, error) {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") ||
		strings.Contains(lower, "too many requests"):
		return nil, errkind.Wrap(errkind.KindRateLimit, "video probe rate limited", cause).
			WithRetryAfter(time.Hour).WithContext("stderr", firstLine(stderr))
	case strings.Contains(lower, "video unavailable") || strings.Contains(lower, "private") ||
		strings.Contains(lower, "removed") || strings.Contains(lower, "terminated"):
		return &VideoProbe{Playable: false, FailReason: "unavailable"}, nil
	default:
		return nil, errkind.Wrap(errkind.KindConnectionFailed, "video probe failed", cause).
			WithContext("stderr", firstLine(stderr))
	}
}

// VerifyEmbeddable checks a YouTube URL against the oEmbed endpoint as a
// cheap liveness test before a full probe.
func (c *YtdlpClient) VerifyEmbeddable(ctx context.Context, url string) (bool, error) {
	oembed := "https://www.youtube.com/oembed?format=json&url=" + url
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oembed, nil)
	if err != nil {
		return false, errkind.Wrap(errkind.KindInputInvalid, "build oembed request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, errkind.Classify(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
		return false, nil
	case http.StatusTooManyRequests:
		return false, errkind.New(errkind.KindRateLimit, "oembed rate limited").WithRetryAfter(time.Hour)
	default:
		return false, errkind.Newf(errkind.KindServerError, "oembed http %d", resp.StatusCode).WithStatus(resp.StatusCode)
	}
}

// Download fetches the best mp4 rendition into destDir and returns the
// written file path.
func (c *YtdlpClient) Download(ctx context.Context, url, destDir string) (string, error) {
	template := filepath.Join(destDir, "%(id)s.%(ext)s")
	cmd := exec.CommandContext(ctx, c.binPath,
		"--no-playlist", "--no-warnings",
		"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		"--merge-output-format", "mp4",
		"-o", template,
		"--print", "after_move:filepath",
		url)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_, cerr := classifyProbeFailure(stderr.String(), err)
		if cerr != nil {
			return "", cerr
		}
		return "", errkind.Wrap(errkind.KindConnectionFailed, "trailer download failed", err).
			WithContext("stderr", firstLine(stderr.String()))
	}
	path := strings.TrimSpace(stdout.String())
	if path == "" {
		return "", errkind.New(errkind.KindConnectionFailed, "yt-dlp reported no output file")
	}
	return path, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// CanonicalWatchURL normalizes provider video references to a watch URL.
func CanonicalWatchURL(site, key string) (string, error) {
	switch strings.ToLower(site) {
	case "youtube":
		return "https://www.youtube.com/watch?v=" + key, nil
	case "vimeo":
		return "https://vimeo.com/" + key, nil
	default:
		return "", fmt.Errorf("unsupported video site %q", site)
	}
}
