package event

import (
	"encoding/json"
	"time"
)

// Operation は業務サービスが行った操作の種類を表す。
type Operation string

const (
	// OperationInsert はレコードの新規作成を表す。
	OperationInsert Operation = "insert"
	// OperationIncrement はカウンタの加算を表す。
	OperationIncrement Operation = "increment"
	// OperationDecrement はカウンタの減算（いいね取り消し等）を表す。
	OperationDecrement Operation = "decrement"
	// OperationDelete はレコードの削除を表す。
	OperationDelete Operation = "delete"
)

// Action は業務サービスが発行する生のドメインイベント。
// 不変であり、少なくとも1回は配送される。
type Action struct {
	// ActionType は操作の種類（like, forward 等）。
	ActionType string `json:"action_type"`
	// Operation は操作の内容。
	Operation Operation `json:"operation"`
	// Operator は操作したユーザーのID。通知の送信者になる。
	Operator int64 `json:"operator"`
	// Target は操作対象のエンティティID。
	Target int64 `json:"target"`
	// Receiver は通知先のユーザーID。メンションやフォローでは業務サービスが設定する。
	Receiver *int64 `json:"receiver,omitempty"`
	// OccurredAt は操作が行われた日時。
	OccurredAt time.Time `json:"occurred_at"`
	// Multiplicity は同一操作の回数。
	Multiplicity int `json:"multiplicity"`
}

// IsUndo は操作が取り消し系（減算・削除）であるかを返す。
func (a Action) IsUndo() bool {
	return a.Operation == OperationDecrement || a.Operation == OperationDelete
}

// EntityType は通知が参照するエンティティの種類を表す。
type EntityType string

const (
	// EntityTypeContent は投稿を表す。
	EntityTypeContent EntityType = "CONTENT"
	// EntityTypeUser はユーザーを表す。
	EntityTypeUser EntityType = "USER"
)

// NoticeEvent は通知の原因となったイベントの種類を表す。
type NoticeEvent string

const (
	NoticeEventLike      NoticeEvent = "LIKE"
	NoticeEventForward   NoticeEvent = "FORWARD"
	NoticeEventReply     NoticeEvent = "REPLY"
	NoticeEventQuote     NoticeEvent = "QUOTE"
	NoticeEventMentioned NoticeEvent = "MENTIONED"
	NoticeEventFollow    NoticeEvent = "FOLLOW"
	NoticeEventTweeted   NoticeEvent = "TWEETED"
)

// NoticeType は通知の発生源を表す。
type NoticeType string

const (
	// NoticeTypeUser はユーザー操作による通知を表す。
	NoticeTypeUser NoticeType = "USER"
	// NoticeTypeSystem はシステムが生成した通知を表す。
	NoticeTypeSystem NoticeType = "SYSTEM"
)

// Status は通知の状態を表す。
type Status string

const (
	// StatusUnread は未読を表す。
	StatusUnread Status = "UNREAD"
	// StatusRead は既読を表す。
	StatusRead Status = "READ"
	// StatusUnreachable は受信者が送信者をブロックしているため配信しないことを表す。
	StatusUnreachable Status = "UNREACHABLE"
)

// Notification はアセンブラが生成する正規化済みの通知レコード。
// 削除されることはなく、状態のみが遷移する。
type Notification struct {
	// ID は時系列順に並ぶ一意な識別子。
	ID int64 `json:"id"`
	// SenderID は通知の送信者。
	SenderID int64 `json:"sender_id"`
	// ReceiverID は通知の受信者。
	ReceiverID int64 `json:"receiver_id"`
	// EntityType は参照先エンティティの種類。
	EntityType EntityType `json:"entity_type"`
	// SonEntity は参照先エンティティのID。
	SonEntity int64 `json:"son_entity"`
	// Event は通知の原因となったイベント。
	Event NoticeEvent `json:"event"`
	// NoticeType は通知の発生源。
	NoticeType NoticeType `json:"notice_type"`
	// Status は通知の状態。
	Status Status `json:"status"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// Publish は新規投稿（または投稿削除）のイベント。
type Publish struct {
	// PublisherID は投稿者のID。
	PublisherID int64 `json:"publisher_id"`
	// ContentID は投稿のID。
	ContentID int64 `json:"content_id"`
	// Score は投稿日時のUNIXミリ秒。フィードの並び順に使う。
	Score int64 `json:"score"`
	// Deleted が真の場合は投稿が削除されたことを表す。
	Deleted bool `json:"deleted,omitempty"`
}

// RelationType はユーザー間の関係の種類を表す。
type RelationType int

const (
	RelationFollowing  RelationType = 1
	RelationUnfollowed RelationType = 2
	RelationBlock      RelationType = 3
)

// Relation はユーザー間の関係の変化を表すイベント。
type Relation struct {
	// FromID は関係を変更したユーザーのID。
	FromID int64 `json:"from_id"`
	// ToID は関係の相手のID。
	ToID int64 `json:"to_id"`
	// Type は変更後の関係。
	Type RelationType `json:"type"`
}

// Envelope は再投入可能なトピックで使うメッセージの封筒。
// 再試行回数をメッセージ自身が持ち運ぶ。
type Envelope[T any] struct {
	// Body はメッセージ本体。
	Body T `json:"body"`
	// RetryTimes はこれまでに再投入された回数。
	RetryTimes int `json:"retry_times"`
}

// Chat はユーザー間のチャットメッセージ。
type Chat struct {
	// ID は時系列順に並ぶ一意な識別子。
	ID int64 `json:"id"`
	// SenderID は送信者。WebSocketハンドラがサーバー側で設定する。
	SenderID int64 `json:"sender_id"`
	// ReceiverID は受信者。
	ReceiverID int64 `json:"receiver_id"`
	// Content は本文。
	Content string `json:"content"`
	// CreatedAt は送信日時。
	CreatedAt time.Time `json:"created_at"`
}

// Presence はWebSocketの接続・切断を表すイベント。
type Presence struct {
	// UserID は接続したユーザーのID。
	UserID int64 `json:"user_id"`
	// SessionID はセッションの識別子。
	SessionID string `json:"session_id"`
	// At は接続状態が変化した日時。
	At time.Time `json:"at"`
}

// PayloadKind は配信ペイロードに含まれるレコードの種類を表す。
type PayloadKind string

const (
	// KindChat はチャットメッセージの一覧を表す。
	KindChat PayloadKind = "CHAT"
	// KindNotice は通知レコードの一覧を表す。
	KindNotice PayloadKind = "NOTICE"
)

// Payload はユーザーごとの配信チャネルに流れるタグ付きペイロード。
// キーは種類、値はその種類のレコードのJSON配列。
type Payload map[PayloadKind]json.RawMessage
