// AniList implementation of [Tracker]
//
// GraphQL schema reference: https://docs.anilist.co/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultAniListURL = "https://graphql.anilist.co"
	anilistAuthURL    = "https://anilist.co/api/v2/oauth/authorize"
	anilistTokenURL   = "https://anilist.co/api/v2/oauth/token"
	defaultAniListRPM = 60
)

const viewerQuery = `query { Viewer { id name } }`

const collectionQuery = `query ($userId: Int, $type: MediaType) {
  MediaListCollection(userId: $userId, type: $type) {
    lists {
      entries {
        mediaId
        status
        progress
        media { title { userPreferred } episodes chapters coverImage { large } }
      }
    }
  }
}`

const mediaQuery = `query ($id: Int) {
  Media(id: $id) {
    id
    type
    title { userPreferred }
    episodes
    chapters
    coverImage { large }
    mediaListEntry { status progress }
  }
}`

const saveEntryMutation = `mutation ($mediaId: Int, $progress: Int, $status: MediaListStatus) {
  SaveMediaListEntry(mediaId: $mediaId, progress: $progress, status: $status) { id status progress }
}`

// AniListViewer is the authenticated AniList user.
type AniListViewer struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type anilistTitle struct {
	UserPreferred string `json:"userPreferred"`
}

type anilistCover struct {
	Large string `json:"large"`
}

type anilistMedia struct {
	ID         int          `json:"id"`
	Type       string       `json:"type"`
	Title      anilistTitle `json:"title"`
	Episodes   *int         `json:"episodes"`
	Chapters   *int         `json:"chapters"`
	CoverImage anilistCover `json:"coverImage"`
	ListEntry  *struct {
		Status   RemoteStatus `json:"status"`
		Progress int          `json:"progress"`
	} `json:"mediaListEntry"`
}

type anilistListEntry struct {
	MediaID  int          `json:"mediaId"`
	Status   RemoteStatus `json:"status"`
	Progress int          `json:"progress"`
	Media    anilistMedia `json:"media"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// AniListConfig configures an [AniListService].
type AniListConfig struct {
	APIURL            string
	ClientID          string
	ClientSecret      string
	RedirectURI       string
	RequestsPerMinute int
	Tokens            TokenStore
	HTTPClient        *http.Client
}

// AniListConfigFrom builds an [AniListConfig] from the [tracker] config section.
func AniListConfigFrom(cfg shared.TrackerConfig) AniListConfig {
	return AniListConfig{
		APIURL:            cfg.APIURL,
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		RedirectURI:       cfg.RedirectURI,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Tokens:            NewFileTokenStore(cfg.TokenPath),
	}
}

// AniListService implements [Tracker] for AniList.
//
// Requests are authenticated through an [oauth2] client built from the stored token and throttled with a
// token bucket sized to the configured requests per minute.
type AniListService struct {
	config  *oauth2.Config
	tokens  TokenStore
	apiURL  string
	base    *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	api      *APIService
	viewerID int
}

// NewAniListService creates a new AniList tracker.
func NewAniListService(cfg AniListConfig) *AniListService {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAniListURL
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultAniListRPM
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = NewMemoryTokenStore(nil)
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}

	return &AniListService{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   anilistAuthURL,
				TokenURL:  anilistTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokens:  tokens,
		apiURL:  apiURL,
		base:    base,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// Name returns the service name.
func (s *AniListService) Name() string {
	return "AniList"
}

// Authenticated reports whether a usable token is stored.
func (s *AniListService) Authenticated() bool {
	token, err := s.tokens.Load()
	if err != nil || token == nil || token.AccessToken == "" {
		return false
	}
	return token.Valid() || token.RefreshToken != ""
}

// Token returns the stored token, or nil.
func (s *AniListService) Token() *oauth2.Token {
	token, _ := s.tokens.Load()
	return token
}

// OAuthConfig exposes the authorization code flow configuration.
func (s *AniListService) OAuthConfig() *oauth2.Config {
	return s.config
}

// AuthURL returns the authorization URL for user login.
func (s *AniListService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token and stores it.
func (s *AniListService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.base)
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	if err := s.SetToken(token); err != nil {
		return nil, err
	}
	return token, nil
}

// SetToken stores token and drops the cached client.
func (s *AniListService) SetToken(token *oauth2.Token) error {
	if err := s.tokens.Save(token); err != nil {
		return err
	}
	s.reset()
	return nil
}

// Logout removes the stored token.
func (s *AniListService) Logout() error {
	if err := s.tokens.Clear(); err != nil {
		return err
	}
	s.reset()
	return nil
}

func (s *AniListService) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = nil
	s.viewerID = 0
}

func (s *AniListService) client() (*APIService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.api != nil {
		return s.api, nil
	}

	token, err := s.tokens.Load()
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, shared.ErrNotAuthenticated
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.base)
	src := &persistingSource{
		parent: s.config.TokenSource(ctx, token),
		store:  s.tokens,
		last:   token.AccessToken,
	}

	s.api = NewAPIService(s.apiURL, oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)))
	return s.api, nil
}

// query runs one GraphQL operation and decodes its data into out.
func (s *AniListService) query(ctx context.Context, query string, vars map[string]any, out any) error {
	api, err := s.client()
	if err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := api.PostJSON(ctx, "", graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}

	if !resp.OK() {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", shared.ErrItemNotFound, resp.Err())
		}
		return resp.Err()
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		if first.Status == http.StatusNotFound {
			return fmt.Errorf("%w: %s", shared.ErrItemNotFound, first.Message)
		}
		return fmt.Errorf("%w: %s", shared.ErrAPIRequest, first.Message)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}

// Viewer returns the authenticated user.
func (s *AniListService) Viewer(ctx context.Context) (*AniListViewer, error) {
	var data struct {
		Viewer AniListViewer `json:"Viewer"`
	}
	if err := s.query(ctx, viewerQuery, nil, &data); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.viewerID = data.Viewer.ID
	s.mu.Unlock()
	return &data.Viewer, nil
}

func (s *AniListService) viewer(ctx context.Context) (int, error) {
	s.mu.Lock()
	id := s.viewerID
	s.mu.Unlock()
	if id != 0 {
		return id, nil
	}

	v, err := s.Viewer(ctx)
	if err != nil {
		return 0, err
	}
	return v.ID, nil
}

// ListProgress fetches every list entry of the given kind.
func (s *AniListService) ListProgress(ctx context.Context, kind models.MediaKind) ([]RemoteProgress, error) {
	userID, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}

	var data struct {
		Collection struct {
			Lists []struct {
				Entries []anilistListEntry `json:"entries"`
			} `json:"lists"`
		} `json:"MediaListCollection"`
	}

	vars := map[string]any{"userId": userID, "type": mediaType(kind)}
	if err := s.query(ctx, collectionQuery, vars, &data); err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	progress := make([]RemoteProgress, 0)
	for _, list := range data.Collection.Lists {
		for _, e := range list.Entries {
			// custom lists repeat entries from the status lists
			if seen[e.MediaID] {
				continue
			}
			seen[e.MediaID] = true

			progress = append(progress, RemoteProgress{
				RemoteID:     e.MediaID,
				Kind:         kind,
				Title:        e.Media.Title.UserPreferred,
				Progress:     e.Progress,
				Status:       LocalStatus(e.Status),
				RemoteStatus: e.Status,
				Total:        total(kind, e.Media),
				CoverURL:     e.Media.CoverImage.Large,
			})
		}
	}
	return progress, nil
}

// GetProgress fetches the list entry for one media id.
//
// Media that is not on the user's list is reported as [shared.ErrItemNotFound].
func (s *AniListService) GetProgress(ctx context.Context, remoteID int) (*RemoteProgress, error) {
	var data struct {
		Media anilistMedia `json:"Media"`
	}
	if err := s.query(ctx, mediaQuery, map[string]any{"id": remoteID}, &data); err != nil {
		return nil, err
	}

	if data.Media.ListEntry == nil {
		return nil, fmt.Errorf("%w: media %d is not on the list", shared.ErrItemNotFound, remoteID)
	}

	kind := models.MediaVideo
	if data.Media.Type == "MANGA" {
		kind = models.MediaText
	}

	return &RemoteProgress{
		RemoteID:     remoteID,
		Kind:         kind,
		Title:        data.Media.Title.UserPreferred,
		Progress:     data.Media.ListEntry.Progress,
		Status:       LocalStatus(data.Media.ListEntry.Status),
		RemoteStatus: data.Media.ListEntry.Status,
		Total:        total(kind, data.Media),
		CoverURL:     data.Media.CoverImage.Large,
	}, nil
}

// UpdateProgress saves progress and status for one media id.
func (s *AniListService) UpdateProgress(ctx context.Context, remoteID, progress int, status RemoteStatus) error {
	if remoteID <= 0 {
		return fmt.Errorf("%w: remote id %d", shared.ErrPermanent, remoteID)
	}

	vars := map[string]any{"mediaId": remoteID, "progress": progress, "status": string(status)}
	err := s.query(ctx, saveEntryMutation, vars, nil)
	if errors.Is(err, shared.ErrItemNotFound) && !errors.Is(err, shared.ErrPermanent) {
		return fmt.Errorf("%w: %w", shared.ErrPermanent, err)
	}
	return err
}

func mediaType(kind models.MediaKind) string {
	if kind == models.MediaText {
		return "MANGA"
	}
	return "ANIME"
}

func total(kind models.MediaKind, m anilistMedia) *int {
	if kind == models.MediaText {
		return m.Chapters
	}
	return m.Episodes
}
