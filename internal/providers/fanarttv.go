package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/metarr/metarr/internal/errkind"
)

const fanartBaseURL = "https://webservice.fanart.tv/v3"

// FanartProvider fetches curated artwork from fanart.tv. It is image-only;
// the orchestrator never asks it for metadata.
type FanartProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewFanartProvider(apiKey string) *FanartProvider {
	return &FanartProvider{
		apiKey:     apiKey,
		baseURL:    fanartBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
	}
}

func (p *FanartProvider) Name() string { return "fanart_tv" }

type fanartImage struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Lang  string `json:"lang"`
	Likes string `json:"likes"`
}

type fanartMovieResponse struct {
	Name        string        `json:"name"`
	Posters     []fanartImage `json:"movieposter"`
	Backgrounds []fanartImage `json:"moviebackground"`
	Banners     []fanartImage `json:"moviebanner"`
	Thumbs      []fanartImage `json:"moviethumb"`
	ClearLogos  []fanartImage `json:"hdmovielogo"`
	ClearArts   []fanartImage `json:"hdmovieclearart"`
	Discs       []fanartImage `json:"moviedisc"`
}

func (p *FanartProvider) FetchImages(ctx context.Context, ids ExternalIDs) ([]NormalizedImage, error) {
	// fanart.tv accepts TMDB or IMDb ids on the same endpoint.
	var key string
	switch {
	case ids.TmdbID != nil:
		key = strconv.FormatInt(*ids.TmdbID, 10)
	case ids.ImdbID != nil:
		key = *ids.ImdbID
	default:
		return nil, errkind.New(errkind.KindNotFound, "fanart_tv: no usable id")
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errkind.Wrap(errkind.KindTimeout, "fanart rate wait", err)
	}
	url := fmt.Sprintf("%s/movies/%s?api_key=%s", p.baseURL, key, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInputInvalid, "build fanart request", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errkind.Classify(err)
	}
	defer resp.Body.Close()

	if err := checkProviderStatus("fanart_tv", resp); err != nil {
		return nil, err
	}
	var body fanartMovieResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errkind.Wrap(errkind.KindSchemaMismatch, "decode fanart response", err)
	}

	var out []NormalizedImage
	appendImages := func(imgs []fanartImage, assetType string) {
		for _, img := range imgs {
			likes, _ := strconv.Atoi(img.Likes)
			n := NormalizedImage{
				Provider:   "fanart_tv",
				ProviderID: img.ID,
				AssetType:  assetType,
				URL:        img.URL,
				Likes:      likes,
			}
			if img.Lang != "" && img.Lang != "00" {
				lang := img.Lang
				n.Language = &lang
			}
			out = append(out, n)
		}
	}
	appendImages(body.Posters, "poster")
	appendImages(body.Backgrounds, "fanart")
	appendImages(body.Banners, "banner")
	appendImages(body.Thumbs, "landscape")
	appendImages(body.ClearLogos, "clearlogo")
	appendImages(body.ClearArts, "clearart")
	appendImages(body.Discs, "discart")
	return out, nil
}
