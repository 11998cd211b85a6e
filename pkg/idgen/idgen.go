// Package idgen は時系列順に並ぶ一意なIDを生成する。
//
// 通知レコードとチャットメッセージのIDに使用する。
// snowflake形式のため、IDの大小関係が生成時刻の前後と一致する。
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator はIDを払い出すインターフェース。
type Generator interface {
	// Next は新しいIDを返す。
	Next() int64
}

// Snowflake はsnowflakeノードを使うGenerator実装。
type Snowflake struct {
	// node はIDを払い出すsnowflakeノード。並行呼び出しに対して安全。
	node *snowflake.Node
}

// NewSnowflake は指定ノード番号のSnowflakeを生成する。
// ノード番号はプロセスごとに一意でなければならない。
func NewSnowflake(node int64) (*Snowflake, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflakeノードの生成に失敗: %w", err)
	}
	return &Snowflake{node: n}, nil
}

// Next は新しいIDを返す。
func (s *Snowflake) Next() int64 {
	return s.node.Generate().Int64()
}
