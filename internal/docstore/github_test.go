package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	appmodels "locbot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContentsAPI mimics the subset of the GitHub contents API the store uses.
type fakeContentsAPI struct {
	mu        sync.Mutex
	content   []byte
	sha       string
	revision  int
	puts      int
	status    int
	lastPut   map[string]any
	authHeads []string
}

func (f *fakeContentsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.authHeads = append(f.authHeads, r.Header.Get("Authorization"))
	if r.URL.Path != "/repos/acme/maps/contents/data/locations.json" {
		http.NotFound(w, r)
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodGet:
		if f.sha == "" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":     "file",
			"encoding": "base64",
			"path":     "data/locations.json",
			"sha":      f.sha,
			"content":  base64.StdEncoding.EncodeToString(f.content),
		})
	case http.MethodPut:
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastPut = body
		sha, _ := body["sha"].(string)
		if f.sha != "" && sha == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Invalid request.\n\n\"sha\" wasn't supplied."}`))
			return
		}
		if sha != f.sha {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(fmt.Sprintf(`{"message":"data/locations.json does not match %s"}`, sha)))
			return
		}
		raw, _ := body["content"].(string)
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.puts++
		f.bump(decoded)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": map[string]any{"sha": f.sha, "path": "data/locations.json"},
			"commit":  map[string]any{"sha": "c" + f.sha},
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeContentsAPI) bump(content []byte) {
	f.revision++
	f.content = content
	f.sha = fmt.Sprintf("sha%d", f.revision)
}

// externalEdit simulates someone else committing to the file.
func (f *fakeContentsAPI) externalEdit(content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bump([]byte(content))
}

func newGitHubTestStore(t *testing.T, api http.Handler) *GitHubStore {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	store, err := NewGitHubStore(GitHubConfig{
		Token:          "ghp_test",
		Owner:          "acme",
		Repo:           "maps",
		Path:           "data/locations.json",
		Branch:         "main",
		BaseURL:        srv.URL,
		CommitterName:  "locbot",
		CommitterEmail: "locbot@example.com",
	})
	require.NoError(t, err)
	return store
}

func TestGitHubStore_FetchMissing(t *testing.T) {
	store := newGitHubTestStore(t, &fakeContentsAPI{})

	snap, err := store.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Exists())
	assert.Empty(t, snap.Content)
}

func TestGitHubStore_WriteAndConflict(t *testing.T) {
	api := &fakeContentsAPI{}
	store := newGitHubTestStore(t, api)
	ctx := context.Background()

	version, err := store.Write(ctx, WriteRequest{Content: []byte(`{"locations":[]}`), Message: "create"})
	require.NoError(t, err)
	assert.Equal(t, "sha1", version)
	assert.Equal(t, "create", api.lastPut["message"])
	assert.Equal(t, "main", api.lastPut["branch"])
	assert.NotContains(t, api.lastPut, "sha")
	committer, ok := api.lastPut["committer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "locbot", committer["name"])
	assert.Equal(t, "locbot@example.com", committer["email"])

	snap, err := store.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sha1", snap.Version)
	assert.JSONEq(t, `{"locations":[]}`, string(snap.Content))

	_, err = store.Write(ctx, WriteRequest{Content: []byte(`{}`), Version: "stale", Message: "update"})
	assert.ErrorIs(t, err, ErrVersionMismatch)
	assert.Equal(t, "stale", api.lastPut["sha"])
	assert.Equal(t, "update", api.lastPut["message"])

	_, err = store.Write(ctx, WriteRequest{Content: []byte(`{}`), Message: "create again"})
	assert.ErrorIs(t, err, ErrVersionMismatch)

	assert.Equal(t, "Bearer ghp_test", api.authHeads[0])
}

func TestGitHubStore_AuthFailureIsNotAConflict(t *testing.T) {
	api := &fakeContentsAPI{status: http.StatusUnauthorized}
	store := newGitHubTestStore(t, api)

	_, err := store.Fetch(context.Background())
	require.Error(t, err)

	_, err = store.Write(context.Background(), WriteRequest{Content: []byte(`{}`), Version: "sha1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVersionMismatch)
}

func TestGitHubStore_SynchronizerRecoversFromExternalEdit(t *testing.T) {
	api := &fakeContentsAPI{}
	api.bump([]byte(`{"locations":[{"id":"loc_a","name":"A","approved":true}]}`))
	store := newGitHubTestStore(t, api)

	// The first write loses because the file moves under us.
	var once sync.Once
	racing := storeFunc{
		Store: store,
		beforeWrite: func() {
			once.Do(func() {
				api.externalEdit(`{"locations":[{"id":"loc_a","name":"A","approved":true},{"id":"loc_b","name":"B","approved":true}]}`)
			})
		},
	}

	syncer := NewSynchronizer(racing, SyncOptions{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})
	res, err := syncer.Append(context.Background(), location("loc_c", "C"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)

	doc := decode(t, api.content)
	assert.Equal(t, 3, doc.Len())
	assert.True(t, doc.Contains("loc_b"))
	assert.True(t, doc.Contains("loc_c"))
	assert.Equal(t, 1, api.puts, "the rejected write is not applied")
}

func TestGitHubStore_TransportErrorSurfaces(t *testing.T) {
	api := &fakeContentsAPI{status: http.StatusInternalServerError}
	syncer := NewSynchronizer(newGitHubTestStore(t, api), SyncOptions{MaxAttempts: 3, InitialInterval: time.Millisecond})

	res, err := syncer.Append(context.Background(), location("loc_c", "C"))
	require.Error(t, err)
	assert.True(t, appmodels.HasCode(err, appmodels.CodeTransport))
	assert.Equal(t, 1, res.Attempts)
}

type storeFunc struct {
	Store
	beforeWrite func()
}

func (s storeFunc) Write(ctx context.Context, req WriteRequest) (string, error) {
	s.beforeWrite()
	return s.Store.Write(ctx, req)
}
