package enrich

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/nao1215/chirpline/pkg/httpclient"
	"golang.org/x/sync/errgroup"
)

// defaultChunkSize は1リクエストで問い合わせるIDの最大数。
const defaultChunkSize = 100

// HTTPClient はHTTP/JSONで外部サービスに問い合わせるClient実装。
type HTTPClient struct {
	// chirper はコンテンツサービスへのクライアント。
	chirper *httpclient.Client
	// user はユーザーサービスへのクライアント。
	user *httpclient.Client
	// auth は認証サービスへのクライアント。
	auth *httpclient.Client
	// chunkSize は1リクエストで問い合わせるIDの最大数。
	chunkSize int
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient は新しいHTTPClientを生成する。
// timeoutは1リクエストあたりのタイムアウトで、ファンアウトのタスクの所要時間の上限にもなる。
func NewHTTPClient(chirperURL, userURL, authURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		chirper:   httpclient.New(chirperURL, httpclient.WithTimeout(timeout)),
		user:      httpclient.New(userURL, httpclient.WithTimeout(timeout)),
		auth:      httpclient.New(authURL, httpclient.WithTimeout(timeout)),
		chunkSize: defaultChunkSize,
	}
}

// idsRequest はIDの一覧を送るリクエストのJSON構造。
type idsRequest struct {
	// IDs は問い合わせるIDの一覧。
	IDs []int64 `json:"ids"`
}

// FetchEntities はIDを分割して並行に問い合わせ、結果をまとめて返す。
// 1つでも失敗した場合はエラーを返す。
func (c *HTTPClient) FetchEntities(ctx context.Context, ids []int64) (map[int64]Entity, error) {
	ids = distinct(ids)
	res := make(map[int64]Entity, len(ids))
	if len(ids) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	for chunk := range slices.Chunk(ids, c.chunkSize) {
		eg.Go(func() error {
			var entities []Entity
			if err := c.chirper.PostJSON(ctx, "/api/v1/chirpers/basic", idsRequest{IDs: chunk}, &entities); err != nil {
				return fmt.Errorf("エンティティの取得に失敗: %w", err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, e := range entities {
				res[e.ID] = e
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// FetchFollowerPage はフォロワーIDを1ページ分取得する。
func (c *HTTPClient) FetchFollowerPage(ctx context.Context, userID int64, pageIndex, pageSize int) ([]int64, error) {
	query := url.Values{
		"page": {strconv.Itoa(pageIndex)},
		"size": {strconv.Itoa(pageSize)},
	}
	var ids []int64
	if err := c.user.GetJSON(ctx, fmt.Sprintf("/api/v1/users/%d/followers", userID), query, &ids); err != nil {
		return nil, fmt.Errorf("フォロワー一覧の取得に失敗 (user=%d, page=%d): %w", userID, pageIndex, err)
	}
	return ids, nil
}

// followerCountResponse はフォロワー数APIのレスポンス。
type followerCountResponse struct {
	// Count はフォロワー数。
	Count int `json:"count"`
}

// FetchFollowerCount はフォロワー数を取得する。
func (c *HTTPClient) FetchFollowerCount(ctx context.Context, userID int64) (int, error) {
	var resp followerCountResponse
	if err := c.user.GetJSON(ctx, fmt.Sprintf("/api/v1/users/%d/followers/count", userID), nil, &resp); err != nil {
		return 0, fmt.Errorf("フォロワー数の取得に失敗 (user=%d): %w", userID, err)
	}
	return resp.Count, nil
}

// CheckOnline はオンライン状態を取得する。
func (c *HTTPClient) CheckOnline(ctx context.Context, ids []int64) (map[int64]bool, error) {
	ids = distinct(ids)
	if len(ids) == 0 {
		return map[int64]bool{}, nil
	}
	res := make(map[int64]bool, len(ids))
	if err := c.auth.PostJSON(ctx, "/api/v1/online/check", idsRequest{IDs: ids}, &res); err != nil {
		return nil, fmt.Errorf("オンライン状態の取得に失敗: %w", err)
	}
	return res, nil
}

// authorIDsRequest は投稿者IDの一覧を送るリクエストのJSON構造。
type authorIDsRequest struct {
	// AuthorIDs は問い合わせる投稿者IDの一覧。
	AuthorIDs []int64 `json:"author_ids"`
}

// FetchContentIDsByAuthor は投稿者ごとの投稿IDを取得する。
func (c *HTTPClient) FetchContentIDsByAuthor(ctx context.Context, authorIDs []int64) (map[int64][]int64, error) {
	authorIDs = distinct(authorIDs)
	if len(authorIDs) == 0 {
		return map[int64][]int64{}, nil
	}
	res := make(map[int64][]int64, len(authorIDs))
	if err := c.chirper.PostJSON(ctx, "/api/v1/chirpers/ids-by-author", authorIDsRequest{AuthorIDs: authorIDs}, &res); err != nil {
		return nil, fmt.Errorf("投稿者ごとの投稿IDの取得に失敗: %w", err)
	}
	return res, nil
}

// FetchRecentByFollower はフォロー中の投稿者の最近の投稿を取得する。
func (c *HTTPClient) FetchRecentByFollower(ctx context.Context, userID int64, size int) ([]Entity, error) {
	var entities []Entity
	query := url.Values{"size": {strconv.Itoa(size)}}
	if err := c.chirper.GetJSON(ctx, fmt.Sprintf("/api/v1/chirpers/following/%d", userID), query, &entities); err != nil {
		return nil, fmt.Errorf("フォロー中の投稿の取得に失敗 (user=%d): %w", userID, err)
	}
	return entities, nil
}

// blockedRequest はブロック関係の照会リクエスト。
type blockedRequest struct {
	// Pairs は照会する受信者と送信者の組。
	Pairs []Pair `json:"pairs"`
}

// blockedResponse はブロック関係の照会レスポンス。
type blockedResponse struct {
	// Blocked はブロックが成立している組。
	Blocked []Pair `json:"blocked"`
}

// BlockedPairs はブロックが成立している組を返す。
func (c *HTTPClient) BlockedPairs(ctx context.Context, pairs []Pair) (map[Pair]bool, error) {
	res := make(map[Pair]bool)
	if len(pairs) == 0 {
		return res, nil
	}
	var resp blockedResponse
	if err := c.user.PostJSON(ctx, "/api/v1/relations/blocked", blockedRequest{Pairs: pairs}, &resp); err != nil {
		return nil, fmt.Errorf("ブロック関係の取得に失敗: %w", err)
	}
	for _, p := range resp.Blocked {
		res[p] = true
	}
	return res, nil
}

// distinct は出現順を保ったまま重複を取り除く。
func distinct(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	res := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	return res
}
