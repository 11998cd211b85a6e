package notice

import (
	"context"
	"fmt"

	"github.com/nao1215/chirpline/internal/enrich"
	"github.com/nao1215/chirpline/pkg/event"
)

// BlockChecker は受信者が送信者をブロックしているかを照会する。
// enrich.Clientがこれを満たす。
type BlockChecker interface {
	BlockedPairs(ctx context.Context, pairs []enrich.Pair) (map[enrich.Pair]bool, error)
}

// Filter はブロック関係にあるレコードの状態をUNREACHABLEにした一覧を返す。
// 返す一覧は入力と同じ件数・同じ順序で、入力のスライスは変更しない。
// 照会に失敗した場合はエラーを返し、呼び出し側はそのバッチの配信を中止する。
func Filter(ctx context.Context, checker BlockChecker, records []event.Notification) ([]event.Notification, error) {
	res := make([]event.Notification, len(records))
	copy(res, records)
	if len(res) == 0 {
		return res, nil
	}

	pairs := make([]enrich.Pair, 0, len(res))
	seen := make(map[enrich.Pair]struct{}, len(res))
	for _, r := range res {
		p := enrich.Pair{ReceiverID: r.ReceiverID, SenderID: r.SenderID}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}

	blocked, err := checker.BlockedPairs(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("ブロック関係の確認に失敗: %w", err)
	}
	for i := range res {
		if blocked[enrich.Pair{ReceiverID: res[i].ReceiverID, SenderID: res[i].SenderID}] {
			res[i].Status = event.StatusUnreachable
		}
	}
	return res, nil
}

// Reachable は配信対象（UNREACHABLE以外）のレコードだけを返す。
func Reachable(records []event.Notification) []event.Notification {
	res := make([]event.Notification, 0, len(records))
	for _, r := range records {
		if r.Status != event.StatusUnreachable {
			res = append(res, r)
		}
	}
	return res
}
