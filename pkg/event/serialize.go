package event

import (
	"encoding/json"
	"fmt"
)

// NewEnvelope は再試行回数0の封筒を生成する。
func NewEnvelope[T any](body T) Envelope[T] {
	return Envelope[T]{Body: body}
}

// Retry は再試行回数を1つ増やした封筒を返す。元の封筒は変更しない。
func (e Envelope[T]) Retry() Envelope[T] {
	return Envelope[T]{Body: e.Body, RetryTimes: e.RetryTimes + 1}
}

// DecodeData はJSONを指定された型にデシリアライズする。
func DecodeData[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &v, nil
}

// NewPayload は1種類のレコード一覧からペイロードを生成する。
func NewPayload[T any](kind PayloadKind, records []T) (Payload, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}
	return Payload{kind: raw}, nil
}

// DecodePayload はJSONをペイロードにデシリアライズする。
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("ペイロードのデシリアライズに失敗: %w", err)
	}
	return p, nil
}

// List はペイロードから指定種類のレコード一覧を取り出す。
// 種類が含まれない場合は空の一覧を返す。
func List[T any](p Payload, kind PayloadKind) ([]T, error) {
	raw, ok := p[kind]
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var records []T
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%sレコードのデシリアライズに失敗: %w", kind, err)
	}
	return records, nil
}
